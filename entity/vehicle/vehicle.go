package vehicle

import (
	"errors"
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/container"
)

var log = logrus.WithField("module", "vehicle")

var ErrEmptyRoute = errors.New("vehicle: empty route")

// LeaderView 前车的只读视图
// 说明：由交通管理器在车辆更新前统一生成，更新顺序不影响跟驰结果
type LeaderView struct {
	ID       int32
	Position geometry.Point
	Speed    float64
}

// Vehicle 车辆
// 功能：持有运动学状态、当前路段、剩余路线与环岛/路口转向上下文，每步按状态机推进
// 说明：不保存前车指针，前车由交通管理器每步重新计算后以LeaderView传入
type Vehicle struct {
	container.IncrementalItemBase

	id      int32
	params  Params
	traffic *config.Traffic

	position geometry.Point
	heading  float64
	speed    float64

	segment *segment.Segment
	route   []*segment.Segment // 剩余路线（不含当前路段），从前往后消费
	lane    int32
	t       float64 // 当前路段上的归一化进度
	state   State

	ra roundaboutContext
	tr transitionContext

	waiting       bool
	finished      bool
	readyToRemove bool

	yield     bool // 为应急车辆让行
	yieldStop bool // 让行且停车
	stopClock float64
	dwell     float64
}

func newVehicle(id int32, p Params, pos geometry.Point, traffic *config.Traffic) *Vehicle {
	return &Vehicle{
		id:       id,
		params:   p,
		traffic:  traffic,
		position: pos,
		state:    OnRoad,
	}
}

func (v *Vehicle) ID() int32 {
	return v.id
}

func (v *Vehicle) Params() Params {
	return v.params
}

func (v *Vehicle) Category() Category {
	return v.params.Category
}

func (v *Vehicle) Position() geometry.Point {
	return v.position
}

// 朝向角（弧度，atan2）
func (v *Vehicle) Heading() float64 {
	return v.heading
}

func (v *Vehicle) Speed() float64 {
	return v.speed
}

func (v *Vehicle) SetSpeed(speed float64) {
	v.speed = max(0, min(speed, v.params.MaxSpeed))
}

// 当前路段
func (v *Vehicle) Segment() *segment.Segment {
	return v.segment
}

// PendingSegment 路口转向或环岛通行中即将驶入的路段，其余状态返回nil
func (v *Vehicle) PendingSegment() *segment.Segment {
	switch v.state {
	case IntersectionTransition:
		return v.tr.next
	case EnterRoundabout, InRoundabout, ExitRoundabout:
		return v.ra.next
	}
	return nil
}

// 剩余路线（只读）
func (v *Vehicle) Route() []*segment.Segment {
	return v.route
}

func (v *Vehicle) Lane() int32 {
	return v.lane
}

// ChangeLane 切换车道，仅在路段上行驶时生效
func (v *Vehicle) ChangeLane(lane int32) bool {
	if v.state != OnRoad || v.segment == nil {
		return false
	}
	lane = v.segment.ClampLane(lane)
	if lane == v.lane {
		return false
	}
	v.lane = lane
	return true
}

// 当前路段上的归一化进度
func (v *Vehicle) T() float64 {
	return v.t
}

func (v *Vehicle) State() State {
	return v.state
}

func (v *Vehicle) IsWaiting() bool {
	return v.waiting
}

// ResetWaiting 清除等待标记（每步协调开始时调用）
func (v *Vehicle) ResetWaiting() {
	v.waiting = false
}

func (v *Vehicle) IsFinished() bool {
	return v.finished
}

func (v *Vehicle) ReadyToRemove() bool {
	return v.readyToRemove
}

// Dwelling 是否正在停站
func (v *Vehicle) Dwelling() bool {
	return v.dwell > 0
}

// SetYield 设置让行状态
// 功能：让行时换到0号车道并限速为最高速度的一半，stop为true时原地停车
func (v *Vehicle) SetYield(yield, stop bool) {
	v.yield = yield
	v.yieldStop = yield && stop
	if yield {
		v.ChangeLane(0)
	}
}

func (v *Vehicle) Yielding() bool {
	return v.yield
}

// RoundaboutTraveled 本次环岛通行的累计转角
func (v *Vehicle) RoundaboutTraveled() float64 {
	return v.ra.traveled
}

// View 前车视图
func (v *Vehicle) View() LeaderView {
	return LeaderView{ID: v.id, Position: v.position, Speed: v.speed}
}

// SetRoute 设置路线并开始行驶
// 功能：第一条路段作为当前路段，其余作为剩余路线；进度取当前位置在路段上的投影
// 参数：route-路段序列
// 返回：路线为空时返回ErrEmptyRoute
func (v *Vehicle) SetRoute(route []*segment.Segment) error {
	if len(route) == 0 {
		return ErrEmptyRoute
	}
	v.segment = route[0]
	v.route = append(make([]*segment.Segment, 0, len(route)-1), route[1:]...)
	v.lane = v.segment.ClampLane(v.lane)
	v.t = max(0, v.segment.ComputeProgressOnSegment(v.position))
	v.heading = v.segment.HeadingAt(v.t)
	v.state = OnRoad
	v.ra = roundaboutContext{}
	v.tr = transitionContext{}
	v.finished = false
	v.readyToRemove = false
	return nil
}

// Update 推进一步
// 功能：先更新速度（前车、信号灯、让行、停站），再按状态机推进位置与朝向
// 参数：dt-时间步长，leader-前车视图（无前车时为nil）
func (v *Vehicle) Update(dt float64, leader *LeaderView) {
	if v.finished || v.segment == nil {
		return
	}
	v.updateSpeed(dt, leader)
	switch v.state {
	case OnRoad:
		v.updateOnRoad(dt)
	case EnterRoundabout:
		v.updateEnterRoundabout(dt)
	case InRoundabout:
		v.updateInRoundabout(dt)
	case ExitRoundabout:
		v.updateExitRoundabout(dt)
	case IntersectionTransition:
		v.updateTransition(dt)
	default:
		log.Panicf("vehicle %d: bad state %v", v.id, v.state)
	}
}

func (v *Vehicle) String() string {
	segID := int32(0)
	if v.segment != nil {
		segID = v.segment.ID()
	}
	return fmt.Sprintf("Vehicle{id=%d, %v, state=%v, seg=%d, lane=%d, t=%.3f, v=%.2f}",
		v.id, v.params.Category, v.state, segID, v.lane, v.t, v.speed)
}
