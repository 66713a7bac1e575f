package queue

import "github.com/admirito/mongowatch/pkg/mongowatch/record"

// entry pairs a record with its insertion sequence and its current heap
// position. The position is maintained by entryHeap.Swap so deadline
// changes are O(log n) heap.Fix calls instead of lazy deletion plus a
// rescan.
type entry struct {
	rec *record.Record

	// seq is assigned once at first Put and never reassigned; it breaks
	// deadline ties in favor of the earliest original arrival.
	seq uint64

	// index is the entry's position in the heap slice, -1 when popped.
	index int
}

// entryHeap is a min-heap ordered by (deadline, insertion sequence).
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].rec.Deadline.Equal(h[j].rec.Deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].rec.Deadline.Before(h[j].rec.Deadline)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
