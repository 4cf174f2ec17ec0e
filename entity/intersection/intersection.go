package intersection

import (
	"slices"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

// Zone 车辆相对路口的区域
type Zone int32

const (
	ZoneNone     Zone = iota // 不在路口范围内
	ZoneApproach             // 接近区：半径外approachMargin内且朝向路口
	ZoneInside               // 路口内：距中心不超过半径
)

// 占用者记录
type occupant struct {
	zone      Zone
	wasInside bool // 是否曾进入路口内
}

// Intersection 路口占用记录
// 功能：包装一个节点，记录接近或位于路口内的车辆集合（软锁，仅做登记，不阻塞通行）
// 说明：每个路口只在自身的集合上读写，可按路口并行更新
type Intersection struct {
	node      *node.Node
	occupants map[int32]*occupant
}

func New(n *node.Node) *Intersection {
	return &Intersection{
		node:      n,
		occupants: make(map[int32]*occupant),
	}
}

func (i *Intersection) Node() *node.Node {
	return i.node
}

// 路口ID（与节点ID相同）
func (i *Intersection) ID() int32 {
	return i.node.ID()
}

// Occupants 当前占用车辆ID（升序）
func (i *Intersection) Occupants() []int32 {
	ids := lo.Keys(i.occupants)
	slices.Sort(ids)
	return ids
}

func (i *Intersection) IsOccupant(vehicleID int32) bool {
	_, ok := i.occupants[vehicleID]
	return ok
}

// 车辆所在区域
func (i *Intersection) ZoneOf(vehicleID int32) Zone {
	if o, ok := i.occupants[vehicleID]; ok {
		return o.zone
	}
	return ZoneNone
}

func (i *Intersection) Count() int {
	return len(i.occupants)
}

// Admit 登记车辆
func (i *Intersection) Admit(vehicleID int32, zone Zone) {
	o, ok := i.occupants[vehicleID]
	if !ok {
		o = &occupant{}
		i.occupants[vehicleID] = o
	}
	o.zone = zone
	if zone == ZoneInside {
		o.wasInside = true
	}
}

// Release 注销车辆
func (i *Intersection) Release(vehicleID int32) {
	delete(i.occupants, vehicleID)
}

// Clear 清空所有占用
func (i *Intersection) Clear() {
	clear(i.occupants)
}

// Observe 根据车辆位姿更新占用登记
// 功能：按到节点中心的距离划分区域，登记进入接近区或路口内的车辆，注销已驶离的车辆
// 参数：vehicleID-车辆ID，pos-位置，heading-朝向角，approachMargin-接近区外扩距离，exitMargin-驶离判定外扩距离
// 算法说明：
// 1. d<=R：路口内，登记
// 2. d<=R+approachMargin：已登记且曾进入路口、离开R+exitMargin且背离路口时注销；未登记且朝向路口时登记为接近
// 3. 其余：注销
func (i *Intersection) Observe(vehicleID int32, pos geometry.Point, heading, approachMargin, exitMargin float64) {
	center := i.node.Position()
	r := i.node.Radius()
	d := geoutil.Distance2D(pos, center)
	towards := geoutil.Dot2D(geoutil.Unit(heading), geoutil.Sub(center, pos)) > 0
	o, isOccupant := i.occupants[vehicleID]
	switch {
	case d <= r:
		i.Admit(vehicleID, ZoneInside)
	case d <= r+approachMargin:
		if isOccupant {
			if o.wasInside && d > r+exitMargin && !towards {
				i.Release(vehicleID)
			}
		} else if towards {
			i.Admit(vehicleID, ZoneApproach)
		}
	default:
		if isOccupant {
			i.Release(vehicleID)
		}
	}
}
