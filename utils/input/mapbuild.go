package input

import (
	"errors"
	"fmt"
	"slices"

	"git.fiblab.net/general/common/v2/geometry"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/network"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

var ErrBadMap = errors.New("input: bad map")

// 城市地图中路口的最小半径
const minJunctionRadius = node.DefaultRadius

// BuildFromMap 将城市地图转换为路网
// 功能：路口转换为节点，道路转换为路段
// 算法说明：
// 1. 路口：位置取路口内全部车道中心线点的平均值，半径取这些点到中心的最大距离；有信控程序的路口为信号灯节点
// 2. 道路：只统计机动车道，车道数为机动车道数量；
// 起点为车道前驱所在路口，终点为车道后继所在路口，缺失时在车道端点处补充端点节点
// 3. 道路的前驱或后继路口不唯一时返回错误
//
// 返回：路口ID到节点的映射
func BuildFromMap(m *mapv2.Map, n *network.Network) (map[int32]*node.Node, error) {
	lanes := lo.SliceToMap(m.Lanes, func(l *mapv2.Lane) (int32, *mapv2.Lane) { return l.Id, l })
	laneJunction := make(map[int32]int32) // 车道ID -> 所在路口ID
	nodes := make(map[int32]*node.Node, len(m.Junctions))

	junctions := slices.Clone(m.Junctions)
	slices.SortFunc(junctions, func(a, b *mapv2.Junction) int { return int(a.Id) - int(b.Id) })
	for _, j := range junctions {
		points := make([]geometry.Point, 0)
		for _, id := range j.LaneIds {
			laneJunction[id] = j.Id
			if l, ok := lanes[id]; ok && l.CenterLine != nil {
				points = append(points, lo.Map(l.CenterLine.Nodes, func(p *geov2.XYPosition, _ int) geometry.Point {
					return geometry.NewPointFromPb(p)
				})...)
			}
		}
		if len(points) == 0 {
			log.Warnf("junction %d has no lane, skip", j.Id)
			continue
		}
		center := centroid(points)
		radius := lo.Max(lo.Map(points, func(p geometry.Point, _ int) float64 {
			return geoutil.Distance2D(p, center)
		}))
		typ := node.SimpleIntersection
		if j.FixedProgram != nil {
			typ = node.TrafficLight
		}
		nd := n.AddNode(center, typ, max(radius, minJunctionRadius))
		if _, err := n.AddIntersection(nd); err != nil {
			return nil, err
		}
		nodes[j.Id] = nd
	}

	roads := slices.Clone(m.Roads)
	slices.SortFunc(roads, func(a, b *mapv2.Road) int { return int(a.Id) - int(b.Id) })
	for _, r := range roads {
		driving := lo.FilterMap(r.LaneIds, func(id int32, _ int) (*mapv2.Lane, bool) {
			l, ok := lanes[id]
			return l, ok && l.Type == mapv2.LaneType_LANE_TYPE_DRIVING && l.CenterLine != nil && len(l.CenterLine.Nodes) >= 2
		})
		if len(driving) == 0 {
			continue
		}
		pre, err := uniqueJunction(driving, laneJunction, func(l *mapv2.Lane) []*mapv2.LaneConnection { return l.Predecessors })
		if err != nil {
			return nil, fmt.Errorf("road %d predecessor: %w", r.Id, err)
		}
		suc, err := uniqueJunction(driving, laneJunction, func(l *mapv2.Lane) []*mapv2.LaneConnection { return l.Successors })
		if err != nil {
			return nil, fmt.Errorf("road %d successor: %w", r.Id, err)
		}
		line := driving[0].CenterLine.Nodes
		start, ok := nodes[pre]
		if !ok {
			start = n.AddNode(geometry.NewPointFromPb(line[0]), node.SimpleIntersection, node.DefaultRadius)
		}
		end, ok := nodes[suc]
		if !ok {
			end = n.AddNode(geometry.NewPointFromPb(line[len(line)-1]), node.SimpleIntersection, node.DefaultRadius)
		}
		if start == end {
			log.Warnf("road %d starts and ends at the same junction, skip", r.Id)
			continue
		}
		if _, err := n.AddRoadSegment(start, end, int32(len(driving)), false); err != nil {
			return nil, fmt.Errorf("road %d: %w", r.Id, err)
		}
	}
	log.Infof("map: %d junctions, %d roads -> %v", len(m.Junctions), len(m.Roads), n.Summary())
	return nodes, nil
}

// 车道连接所在的唯一路口，没有连接时返回-1
func uniqueJunction(ls []*mapv2.Lane, laneJunction map[int32]int32, conns func(*mapv2.Lane) []*mapv2.LaneConnection) (int32, error) {
	res := int32(-1)
	for _, l := range ls {
		for _, c := range conns(l) {
			j, ok := laneJunction[c.Id]
			if !ok {
				return 0, fmt.Errorf("%w: lane %d connects to lane %d outside junctions", ErrBadMap, l.Id, c.Id)
			}
			if res >= 0 && res != j {
				return 0, fmt.Errorf("%w: junction is not unique: %d v.s. %d", ErrBadMap, res, j)
			}
			res = j
		}
	}
	return res, nil
}

func centroid(ps []geometry.Point) geometry.Point {
	var c geometry.Point
	for _, p := range ps {
		c.X += p.X
		c.Y += p.Y
		c.Z += p.Z
	}
	k := float64(len(ps))
	return geometry.Point{X: c.X / k, Y: c.Y / k, Z: c.Z / k}
}
