package entity

import (
	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/sim/syncer/v3"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/intersection"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
)

// Manager依赖倒置

// entity/network/network.go的依赖倒置
type INetwork interface {
	Register(sidecar *syncer.Sidecar) // 注册到Sidecar

	Nodes() []*node.Node
	Segments() []*segment.Segment
	Intersections() []*intersection.Intersection

	// 输入节点ID，查找节点，如果不存在则返回nil
	FindNodeByID(id int32) *node.Node
	// 查找距离位置最近的节点
	FindNearestNode(pos geometry.Point) *node.Node
	// 查找from->to方向的路段，如果不存在则返回nil
	SegmentBetween(from, to int32) *segment.Segment
	// 节点的出边
	Outgoing(nodeID int32) []*segment.Segment
	// 节点路径转换为路段序列
	RouteFromPath(path []*node.Node) []*segment.Segment

	Prepare()          // 准备阶段
	Update(dt float64) // 更新阶段
}

// entity/traffic/manager.go的依赖倒置
type ITrafficManager interface {
	// 按起止节点生成车辆
	SpawnVehicleByNodeIDs(startID, endID int32, c vehicle.Category) (SpawnStatus, error)
	// 加入已设置路线的车辆（下一步生效）
	AddVehicle(v *vehicle.Vehicle)
	// 车辆工厂
	Factory() *vehicle.Factory

	// 输入车辆ID，查找车辆，如果不存在则返回nil
	Get(id int32) *vehicle.Vehicle
	// 当前所有车辆
	Vehicles() []*vehicle.Vehicle

	Prepare()          // 准备阶段
	Update(dt float64) // 更新阶段
}

// entity/emergency/manager.go的依赖倒置
type IEmergencyManager interface {
	// 添加医院（应急车辆停靠点）
	AddHospital(name string, pos geometry.Point) error
	// 派遣应急车辆前往目的地，返回任务ID
	Dispatch(kind vehicle.Category, dest geometry.Point) (string, error)

	Update(dt float64) // 更新阶段
}
