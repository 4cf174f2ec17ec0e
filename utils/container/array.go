package container

import (
	"sync"
)

// IIncrementalItem 增量数组元素
// 说明：元素自己记录在数组中的位置，删除时按位置交换到末尾
type IIncrementalItem interface {
	Index() int
	SetIndex(index int)
}

// IncrementalItemBase 可嵌入的IIncrementalItem实现
type IncrementalItemBase struct {
	index int
}

func (b *IncrementalItemBase) Index() int {
	return b.index
}

func (b *IncrementalItemBase) SetIndex(index int) {
	b.index = index
}

// IncrementalArray 增量数组
// 功能：Add/Remove只记录请求（并发安全），在Prepare时统一生效
// 说明：两次Prepare之间Data()返回的切片保持不变，更新阶段可以放心遍历
type IncrementalArray[T IIncrementalItem] struct {
	data   []T
	add    []T
	remove []T
	mtx    sync.Mutex
}

func NewIncrementalArray[T IIncrementalItem]() *IncrementalArray[T] {
	return &IncrementalArray[T]{
		data: make([]T, 0),
	}
}

func (a *IncrementalArray[T]) Len() int {
	return len(a.data)
}

// Data 当前生效的元素，顺序不保证稳定
func (a *IncrementalArray[T]) Data() []T {
	return a.data
}

// Add 增加元素（等到Prepare时才会真正增加）
func (a *IncrementalArray[T]) Add(value T) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.add = append(a.add, value)
}

// Remove 删除元素（等到Prepare时才会真正删除）
func (a *IncrementalArray[T]) Remove(value T) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.remove = append(a.remove, value)
}

// Prepare 执行增量操作
// 算法说明：
// 1. 被删除的位置优先由新增元素填补
// 2. 新增元素不足时，用数组末尾的元素填补，再截断末尾
// 3. 多出的新增元素追加到末尾
// 说明：删除请求中的元素必须已在数组中且不重复
func (a *IncrementalArray[T]) Prepare() {
	a.mtx.Lock()
	add, remove := a.add, a.remove
	a.add, a.remove = nil, nil
	a.mtx.Unlock()

	for _, x := range remove {
		ind := x.Index()
		if len(add) > 0 {
			a.data[ind] = add[0]
			a.data[ind].SetIndex(ind)
			add = add[1:]
			continue
		}
		last := len(a.data) - 1
		if ind != last {
			a.data[ind] = a.data[last]
			a.data[ind].SetIndex(ind)
		}
		a.data = a.data[:last]
	}
	for _, x := range add {
		x.SetIndex(len(a.data))
		a.data = append(a.data, x)
	}
}
