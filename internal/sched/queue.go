package sched

import "container/heap"

// taskHeap orders pending tasks by priority descending, then submission
// sequence ascending, so equal-priority tasks dequeue first-come
// first-served. It implements heap.Interface; all access is guarded by
// the manager mutex.
type taskHeap []*taskRecord

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x any) {
	rec := x.(*taskRecord)
	rec.heapIndex = len(*h)
	*h = append(*h, rec)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.heapIndex = -1
	*h = old[:n-1]
	return rec
}

// queue is one named destination with its priority heap, fairness weight,
// and a bounded window of recent completion times.
type queue struct {
	name     string
	share    int
	capacity int
	heap     taskHeap
	active   int

	// completions is a ring of recent completion durations for the
	// average exposed through QueueStats.
	completions   []int64 // nanoseconds
	completionIdx int
	completionLen int
}

// completionWindow bounds the per-queue completion history.
const completionWindow = 50

func newQueue(name string, share, capacity int) *queue {
	if share < 1 {
		share = 1
	}
	return &queue{
		name:        name,
		share:       share,
		capacity:    capacity,
		completions: make([]int64, completionWindow),
	}
}

// push enqueues a pending task, honoring the capacity bound.
func (q *queue) push(rec *taskRecord) error {
	if q.capacity > 0 && len(q.heap) >= q.capacity {
		return ErrQueueFull
	}
	heap.Push(&q.heap, rec)
	return nil
}

// pop dequeues the highest-priority task, or nil when empty.
func (q *queue) pop() *taskRecord {
	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*taskRecord)
}

// remove takes a specific task out of the heap (pending cancellation).
func (q *queue) remove(rec *taskRecord) {
	if rec.heapIndex >= 0 && rec.heapIndex < len(q.heap) && q.heap[rec.heapIndex] == rec {
		heap.Remove(&q.heap, rec.heapIndex)
	}
}

// recordCompletion folds one completion duration into the ring.
func (q *queue) recordCompletion(nanos int64) {
	q.completions[q.completionIdx] = nanos
	q.completionIdx = (q.completionIdx + 1) % len(q.completions)
	if q.completionLen < len(q.completions) {
		q.completionLen++
	}
}

// avgCompletion returns the mean of the recorded window, zero when empty.
func (q *queue) avgCompletion() int64 {
	if q.completionLen == 0 {
		return 0
	}
	var total int64
	for i := 0; i < q.completionLen; i++ {
		total += q.completions[i]
	}
	return total / int64(q.completionLen)
}
