package config

import "time"

// Defaults for the watcher settings.
const (
	DefaultTimeout       = 600 * time.Second
	DefaultMaxWait       = time.Second
	DefaultMaxServerWait = 30 * time.Second
)

// QueueConfig holds the aggregation queue settings.
type QueueConfig struct {
	// DefaultTimeout applies when a Put names no timeout.
	DefaultTimeout time.Duration
	// ForcedDelay postpones release of finalized records.
	ForcedDelay time.Duration
	// MaxSize bounds the number of live records; zero means unbounded.
	MaxSize int
}

// RemoteConfig holds the owner/proxy settings. When Enabled, a process
// with a Listen address becomes the owner; everything else proxies to
// URL.
type RemoteConfig struct {
	Enabled bool
	Listen  string
	URL     string
	// MaxServerWait caps how long a single remote fetch blocks
	// server-side; clients slice longer waits into repeated calls.
	MaxServerWait time.Duration
}

// PipelineConfig holds the delivery pipeline settings.
type PipelineConfig struct {
	// MaxWait bounds each blocking fetch inside the pipeline loop.
	MaxWait time.Duration
	// IgnoreIntermediates drops records that neither finalized nor
	// timed out before they reach the rate stage.
	IgnoreIntermediates bool
	// Predicate, when non-empty, rejects records it evaluates false
	// against.
	Predicate string
	// Transforms maps field names to ordered transform names.
	Transforms map[string][]string
	// RateInterval enables the rate aggregation stage when positive.
	RateInterval time.Duration
	// RateAttributes lists the numeric fields the rate stage sums.
	RateAttributes []string
}

// CategoryConfig describes one watch category: a per-category timeout
// and template fields merged under the caller's fields on Put.
type CategoryConfig struct {
	Timeout time.Duration
	Fields  map[string]any
}

// WatchConfig is the fully parsed watcher configuration.
type WatchConfig struct {
	Queue      QueueConfig
	Remote     RemoteConfig
	Pipeline   PipelineConfig
	Categories map[string]CategoryConfig
}

// DefaultWatchConfig returns the settings used when no configuration
// file is present.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Queue: QueueConfig{
			DefaultTimeout: DefaultTimeout,
		},
		Remote: RemoteConfig{
			MaxServerWait: DefaultMaxServerWait,
		},
		Pipeline: PipelineConfig{
			MaxWait: DefaultMaxWait,
		},
		Categories: make(map[string]CategoryConfig),
	}
}

// ParseWatch reads the "watch" section of cfg into a WatchConfig,
// falling back to defaults for anything unspecified.
func ParseWatch(cfg Config) WatchConfig {
	wc := DefaultWatchConfig()
	watch := cfg.Section("watch")

	q := watch.Section("queue")
	wc.Queue.DefaultTimeout = q.Duration("default_timeout", wc.Queue.DefaultTimeout)
	wc.Queue.ForcedDelay = q.Duration("forced_delay", wc.Queue.ForcedDelay)
	wc.Queue.MaxSize = q.Int("max_size", wc.Queue.MaxSize)

	r := watch.Section("remote")
	wc.Remote.Enabled = r.Bool("enabled", wc.Remote.Enabled)
	wc.Remote.Listen = r.String("listen", wc.Remote.Listen)
	wc.Remote.URL = r.String("url", wc.Remote.URL)
	wc.Remote.MaxServerWait = r.Duration("max_server_wait", wc.Remote.MaxServerWait)

	p := watch.Section("pipeline")
	wc.Pipeline.MaxWait = p.Duration("max_wait", wc.Pipeline.MaxWait)
	wc.Pipeline.IgnoreIntermediates = p.Bool("ignore_intermediates", wc.Pipeline.IgnoreIntermediates)
	wc.Pipeline.Predicate = p.String("predicate", wc.Pipeline.Predicate)
	wc.Pipeline.RateInterval = p.Duration("rate_interval", wc.Pipeline.RateInterval)
	wc.Pipeline.RateAttributes = p.StringSlice("rate_attributes", wc.Pipeline.RateAttributes)
	if transforms := p.Map("transforms"); transforms != nil {
		wc.Pipeline.Transforms = make(map[string][]string, len(transforms))
		for field := range transforms {
			wc.Pipeline.Transforms[field] = p.Section("transforms").StringSlice(field, nil)
		}
	}

	for name, section := range watch.Sections("categories") {
		wc.Categories[name] = CategoryConfig{
			Timeout: section.Duration("timeout", wc.Queue.DefaultTimeout),
			Fields:  section.Map("fields"),
		}
	}
	return wc
}
