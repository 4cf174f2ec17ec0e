package route

import (
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/container"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

var log = logrus.WithField("module", "route")

const (
	DefaultLaneCoeff = 0.18 // 车道数折减系数
	missingEdgeCost  = 1e6  // 缺失路段的代价
)

// Graph 寻路所需的路网邻接信息
type Graph interface {
	// 节点的出边，按添加顺序排列
	Outgoing(nodeID int32) []*segment.Segment
}

// PathFinder A*寻路器
// 功能：在有向路网上搜索节点路径，边代价为路段长度按车道数折减
// 说明：路网拓扑构建完成后只读，多个搜索可以并发执行
type PathFinder struct {
	graph     Graph
	laneCoeff float64

	wg sync.WaitGroup
}

// New 创建寻路器
// 参数：graph-路网邻接信息，laneCoeff-车道数折减系数（非正数时采用默认值0.18）
func New(graph Graph, laneCoeff float64) *PathFinder {
	if laneCoeff <= 0 {
		laneCoeff = DefaultLaneCoeff
	}
	return &PathFinder{graph: graph, laneCoeff: laneCoeff}
}

// EdgeCost 路段代价 length/(1+k*lanes)，车道越多代价越低
func (p *PathFinder) EdgeCost(s *segment.Segment) float64 {
	if s == nil {
		return missingEdgeCost
	}
	return s.Length() / (1 + p.laneCoeff*float64(s.Lanes()))
}

// FindPath 搜索从start到end的节点路径
// 功能：A*搜索，开放集为按f=g+h排序的最小堆，h为到终点的欧氏距离
// 参数：start-起点，end-终点
// 返回：从start到end的节点序列，相邻节点间必有start==u && end==v的路段；
// 不可达或任一端点为nil时返回空序列，start==end时返回[start]
// 算法说明：
// 1. 弹出f最小的节点，已关闭则跳过（延迟删除）
// 2. 到达终点时沿cameFrom回溯并反转
// 3. 否则关闭该节点，松弛所有出边，g更小时更新cameFrom并入堆
// 说明：f相同时由堆顺序决定；出边按添加顺序遍历，同一路网上结果确定
func (p *PathFinder) FindPath(start, end *node.Node) []*node.Node {
	if start == nil || end == nil {
		return nil
	}
	if start.ID() == end.ID() {
		return []*node.Node{start}
	}
	goal := end.Position()
	h := func(n *node.Node) float64 {
		return geoutil.Distance2D(n.Position(), goal)
	}
	gScore := map[int32]float64{start.ID(): 0}
	cameFrom := make(map[int32]*node.Node)
	closed := make(map[int32]bool)
	open := container.NewPriorityQueue[*node.Node]()
	open.HeapPush(start, h(start))
	for open.Len() > 0 {
		cur, _ := open.HeapPop()
		if closed[cur.ID()] {
			continue
		}
		if cur.ID() == end.ID() {
			path := []*node.Node{cur}
			for n, ok := cameFrom[cur.ID()]; ok; n, ok = cameFrom[n.ID()] {
				path = append(path, n)
			}
			slices.Reverse(path)
			return path
		}
		closed[cur.ID()] = true
		for _, s := range p.graph.Outgoing(cur.ID()) {
			next := s.End()
			if closed[next.ID()] {
				continue
			}
			g := gScore[cur.ID()] + p.EdgeCost(s)
			if old, ok := gScore[next.ID()]; !ok || g < old {
				gScore[next.ID()] = g
				cameFrom[next.ID()] = cur
				open.HeapPush(next, g+h(next))
			}
		}
	}
	log.Debugf("no path from node %d to node %d", start.ID(), end.ID())
	return nil
}

// FindPathAsync 异步寻路（回调版本）
// 功能：在后台goroutine中搜索路径，完成后调用process并关闭返回的channel
func (p *PathFinder) FindPathAsync(start, end *node.Node, process func(path []*node.Node)) chan struct{} {
	ch := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		process(p.FindPath(start, end))
		close(ch)
	}()
	return ch
}

// Wait 等待所有异步寻路完成
func (p *PathFinder) Wait() {
	p.wg.Wait()
}
