package traffic

import (
	"math"

	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
)

// changeLanes 换道
// 算法说明：
// 1. 只处理正向车道数大于1的路段，只统计当前在该路段上行驶的车辆
// 2. 统计各车道上一步处于等待的车辆数
// 3. 上一步等待的车辆以lane_change_p的概率尝试换到等待车辆最少的车道：
//   - 拥堵差不小于lane_change_diff
//   - 目标车道上没有进度差小于lane_change_gap的车辆
func (m *TrafficManager) changeLanes(groups []*segmentGroup) {
	t := m.traffic()
	for _, g := range groups {
		forward := g.segment.ForwardLanes()
		if forward <= 1 {
			continue
		}
		onRoad := make([]*vehicle.Vehicle, 0, len(g.vehicles))
		for _, v := range g.vehicles {
			if v.Segment() == g.segment && v.State() == vehicle.OnRoad {
				onRoad = append(onRoad, v)
			}
		}
		counts := make([]int, forward)
		for _, v := range onRoad {
			if m.prevWaiting[v.ID()] {
				counts[g.segment.ClampLane(v.Lane())]++
			}
		}
		for _, v := range onRoad {
			if !m.prevWaiting[v.ID()] || !m.rng.PTrue(t.LaneChangeP) {
				continue
			}
			from := g.segment.ClampLane(v.Lane())
			target := leastCongested(counts, from)
			if target < 0 || counts[from]-counts[target] < t.LaneChangeDiff {
				continue
			}
			if !laneGapFree(onRoad, v, target, t.LaneChangeGap) {
				continue
			}
			if v.ChangeLane(target) {
				counts[from]--
				counts[target]++
				log.Debugf("vehicle %d changes lane %d -> %d on segment %d", v.ID(), from, target, g.segment.ID())
			}
		}
	}
}

// 除from外等待车辆最少的车道，相同时取编号小的
func leastCongested(counts []int, from int32) int32 {
	best := int32(-1)
	for i, c := range counts {
		if int32(i) == from {
			continue
		}
		if best < 0 || c < counts[best] {
			best = int32(i)
		}
	}
	return best
}

// 目标车道在本车进度附近是否没有其他车辆
func laneGapFree(vs []*vehicle.Vehicle, self *vehicle.Vehicle, lane int32, gap float64) bool {
	for _, o := range vs {
		if o != self && o.Lane() == lane && math.Abs(o.T()-self.T()) < gap {
			return false
		}
	}
	return true
}
