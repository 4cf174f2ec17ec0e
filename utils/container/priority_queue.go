package container

import "container/heap"

type entry[T any] struct {
	value    T
	priority float64
	seq      uint64 // 入队序号，优先级相同时先入先出
}

type entryHeap[T any] []entry[T]

func (h entryHeap[T]) Len() int { return len(h) }

func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap[T]) Push(x any) { *h = append(*h, x.(entry[T])) }

func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry[T]{}
	*h = old[:n-1]
	return e
}

// PriorityQueue 最小优先队列
// 说明：优先级数值越小越先出队，优先级相同的元素按入队顺序出队，保证寻路结果确定
type PriorityQueue[T any] struct {
	h   entryHeap[T]
	seq uint64
}

func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{h: make(entryHeap[T], 0)}
}

func (q *PriorityQueue[T]) Len() int {
	return len(q.h)
}

// First 查看优先级数值最小的元素，不出队
func (q *PriorityQueue[T]) First() (T, float64) {
	return q.h[0].value, q.h[0].priority
}

// HeapPush 入队
func (q *PriorityQueue[T]) HeapPush(value T, priority float64) {
	heap.Push(&q.h, entry[T]{value: value, priority: priority, seq: q.seq})
	q.seq++
}

// HeapPop 弹出优先级数值最小的元素
func (q *PriorityQueue[T]) HeapPop() (T, float64) {
	e := heap.Pop(&q.h).(entry[T])
	return e.value, e.priority
}
