package traffic

import (
	"cmp"
	"slices"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

// segmentGroup 同一路段上的车辆
type segmentGroup struct {
	segment  *segment.Segment
	vehicles []*vehicle.Vehicle
}

// groupBySegment 按路段分组
// 说明：车辆计入当前路段；路口转向或环岛通行中的车辆同时计入即将驶入的路段。
// 分组按路段ID升序，组内按车辆ID升序
func groupBySegment(vs []*vehicle.Vehicle) []*segmentGroup {
	groups := make(map[int32]*segmentGroup)
	add := func(s *segment.Segment, v *vehicle.Vehicle) {
		g, ok := groups[s.ID()]
		if !ok {
			g = &segmentGroup{segment: s}
			groups[s.ID()] = g
		}
		g.vehicles = append(g.vehicles, v)
	}
	for _, v := range vs {
		cur := v.Segment()
		if cur != nil {
			add(cur, v)
		}
		if pending := v.PendingSegment(); pending != nil && pending != cur {
			add(pending, v)
		}
	}
	res := lo.Values(groups)
	slices.SortFunc(res, func(a, b *segmentGroup) int {
		return cmp.Compare(a.segment.ID(), b.segment.ID())
	})
	for _, g := range res {
		slices.SortFunc(g.vehicles, func(a, b *vehicle.Vehicle) int {
			return cmp.Compare(a.ID(), b.ID())
		})
	}
	return res
}

// 路段上的车辆及其进度
type progress struct {
	v *vehicle.Vehicle
	t float64
}

// 前车候选
type leaderPair struct {
	follower, leader *vehicle.Vehicle
}

// segmentLeaders 计算单个路段上的同车道前车（只读）
// 算法说明：
// 1. 投影求每辆车在路段上的进度，丢弃不在路段上的车辆（-1）
// 2. 按进度降序排序
// 3. 对每辆车向前查找最近的同车道车辆作为前车
func segmentLeaders(g *segmentGroup) []leaderPair {
	ps := make([]progress, 0, len(g.vehicles))
	for _, v := range g.vehicles {
		if t := g.segment.ComputeProgressOnSegment(v.Position()); t >= 0 {
			ps = append(ps, progress{v: v, t: t})
		}
	}
	slices.SortStableFunc(ps, func(a, b progress) int {
		return cmp.Compare(b.t, a.t)
	})
	pairs := make([]leaderPair, 0, len(ps))
	for i := 1; i < len(ps); i++ {
		for j := i - 1; j >= 0; j-- {
			if ps[j].v.Lane() == ps[i].v.Lane() {
				pairs = append(pairs, leaderPair{follower: ps[i].v, leader: ps[j].v})
				break
			}
		}
	}
	return pairs
}

// assignLeaders 分配前车
// 功能：按路段并行计算同车道前车后串行合并（同一车辆有多个候选时取最近者），
// 没有前车的车辆在所有车辆中做邻近扫描
func (m *TrafficManager) assignLeaders(vs []*vehicle.Vehicle, groups []*segmentGroup) {
	results := parallel.GoMap(groups, segmentLeaders)
	for _, pairs := range results {
		for _, p := range pairs {
			if p.follower == p.leader || overtakes(p.follower, p.leader) {
				continue
			}
			if cur, ok := m.leaders[p.follower.ID()]; ok {
				old := m.data[cur]
				if geoutil.Distance2D(old.Position(), p.follower.Position()) <= geoutil.Distance2D(p.leader.Position(), p.follower.Position()) {
					continue
				}
			}
			m.leaders[p.follower.ID()] = p.leader.ID()
		}
	}
	for _, v := range vs {
		if _, ok := m.leaders[v.ID()]; ok {
			continue
		}
		if leader := m.proximityLeader(v, vs); leader != nil {
			m.leaders[v.ID()] = leader.ID()
		}
	}
}

// 应急车辆不跟随正在让行的车辆
func overtakes(follower, leader *vehicle.Vehicle) bool {
	return follower.Category().IsEmergency() && leader.Yielding()
}

// proximityLeader 邻近扫描
// 功能：在所有车辆中查找半径内、位于前向锥内且行驶方向大致相同的最近车辆，用于跨路段排队
// 说明：前车为本车的车辆不作为候选，避免相互等待
func (m *TrafficManager) proximityLeader(v *vehicle.Vehicle, vs []*vehicle.Vehicle) *vehicle.Vehicle {
	t := m.traffic()
	dir := geoutil.Unit(v.Heading())
	var best *vehicle.Vehicle
	bestD := t.ProximityRadius
	for _, o := range vs {
		if o == v || overtakes(v, o) {
			continue
		}
		to := geoutil.Sub(o.Position(), v.Position())
		d := geoutil.Len2D(to)
		if d >= bestD || d < 1e-6 {
			continue
		}
		if geoutil.Dot2D(dir, geoutil.Scale(to, 1/d)) <= t.ProximityCone {
			continue
		}
		if geoutil.Dot2D(dir, geoutil.Unit(o.Heading())) <= 0 {
			continue
		}
		if leader, ok := m.leaders[o.ID()]; ok && leader == v.ID() {
			continue
		}
		best, bestD = o, d
	}
	return best
}
