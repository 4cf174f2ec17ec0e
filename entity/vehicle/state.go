package vehicle

import (
	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
)

// State 车辆运动状态
type State int32

const (
	OnRoad                 State = iota // 沿路段车道行驶
	EnterRoundabout                     // 驶入环岛，半径向目标车道半径过渡
	InRoundabout                        // 环岛内沿圆周行驶
	ExitRoundabout                      // 驶出环岛（持续一步）
	IntersectionTransition              // 路口内沿二次贝塞尔曲线转向
)

func (s State) String() string {
	switch s {
	case OnRoad:
		return "ON_ROAD"
	case EnterRoundabout:
		return "ENTER_ROUNDABOUT"
	case InRoundabout:
		return "IN_ROUNDABOUT"
	case ExitRoundabout:
		return "EXIT_ROUNDABOUT"
	case IntersectionTransition:
		return "INTERSECTION_TRANSITION"
	default:
		return "UNKNOWN"
	}
}

// 环岛通行上下文
type roundaboutContext struct {
	center       geometry.Point
	startRadius  float64 // 进入时到中心的距离
	targetRadius float64 // 目标车道半径
	radius       float64
	angle        float64 // 当前极角
	exitAngle    float64
	remaining    float64 // 剩余逆时针转角
	traveled     float64 // 累计转角
	elapsed      float64 // 进入过渡已用时间
	next         *segment.Segment
}

// 路口转向上下文
type transitionContext struct {
	p0, p1, p2 geometry.Point // 二次贝塞尔控制点
	progress   float64
	duration   float64
	next       *segment.Segment
}
