package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

const (
	smoothRate        = 10.  // 位置平滑系数（1/s）
	smoothRateNearEnd = 15.  // 接近路段终点时的位置平滑系数
	nearEndT          = 0.85 // 接近终点的进度阈值
	headingLookahead  = 0.02 // 计算朝向的前视进度

	roundaboutBlendTime   = 0.5  // 驶入环岛的半径过渡时间
	roundaboutInnerFactor = 0.75 // 0号车道的环岛行驶半径系数
	roundaboutOuterFactor = 0.55 // 其他车道的环岛行驶半径系数
	exitPositionBlend     = 0.3  // 驶出环岛时的位置插值系数
	exitHeadingRate       = 10.  // 驶出环岛时的朝向插值系数（1/s）

	minTransitionTime = 0.5
	maxTransitionTime = 2.5

	angleEpsilon = 1e-9
)

// 是否按环岛处理
func (v *Vehicle) isRoundabout(n *node.Node) bool {
	if n.IsRoundabout() {
		return true
	}
	return v.traffic.RoundaboutRadius > 0 && n.Radius() > v.traffic.RoundaboutRadius
}

// updateOnRoad 路段行驶
// 算法说明：
// 1. 进度 t += v*dt/L
// 2. t>=1 时：终点为环岛且有下一路段则驶入环岛；路线为空则到达终点；否则开始路口转向
// 3. 位置以指数平滑逼近车道中心线目标点，接近终点时平滑系数增大
// 4. 朝向取车道上前视点的方向
func (v *Vehicle) updateOnRoad(dt float64) {
	seg := v.segment
	v.t += v.speed * dt / math.Max(seg.Length(), 1e-6)
	if v.t >= 1 {
		v.t = 1
		v.arrive()
		return
	}
	target := seg.TrafficLanePosition(v.lane, v.t)
	k := smoothRate
	if v.t > nearEndT {
		k = smoothRateNearEnd
	}
	v.position = geometry.Blend(v.position, target, 1-math.Exp(-k*dt))
	v.heading = v.laneHeading(seg, v.t)
}

// 车道在进度t处的朝向
func (v *Vehicle) laneHeading(seg *segment.Segment, t float64) float64 {
	here := seg.TrafficLanePosition(v.lane, t)
	ahead := seg.TrafficLanePosition(v.lane, math.Min(t+headingLookahead, 1))
	if d := geoutil.Sub(ahead, here); geoutil.Len2D(d) > 1e-6 {
		return geoutil.Heading(d)
	}
	return seg.HeadingAt(t)
}

// arrive 到达当前路段终点
func (v *Vehicle) arrive() {
	end := v.segment.End()
	if len(v.route) == 0 {
		v.position = v.segment.TrafficLanePosition(v.lane, 1)
		v.speed = 0
		v.finished = true
		v.readyToRemove = true
		log.Debugf("vehicle %d finished at node %d", v.id, end.ID())
		return
	}
	next := v.route[0]
	v.route = v.route[1:]
	if v.isRoundabout(end) {
		v.beginRoundabout(end, next)
	} else {
		v.beginTransition(end, next)
	}
}

// beginRoundabout 驶入环岛
// 功能：以当前位置的极角为入口角，下一路段车道起点的极角为出口角，逆时针转角取(0, 2π]内的正向弧
func (v *Vehicle) beginRoundabout(n *node.Node, next *segment.Segment) {
	center := n.Position()
	rel := geoutil.Sub(v.position, center)
	r0 := geoutil.Len2D(rel)
	angle := geoutil.Heading(rel)
	if r0 < 1e-6 {
		r0 = 1e-3
		angle = v.heading - math.Pi/2
	}
	factor := roundaboutOuterFactor
	if v.lane == 0 {
		factor = roundaboutInnerFactor
	}
	exit := next.TrafficLanePosition(next.ClampLane(v.lane), 0)
	exitAngle := geoutil.Heading(geoutil.Sub(exit, center))
	v.ra = roundaboutContext{
		center:       center,
		startRadius:  r0,
		targetRadius: n.Radius() * factor,
		radius:       r0,
		angle:        angle,
		exitAngle:    exitAngle,
		remaining:    geoutil.ForwardArc(angle, exitAngle),
		next:         next,
	}
	v.state = EnterRoundabout
}

// 沿圆周推进角度，单步转角不超过剩余转角
func (v *Vehicle) advanceAngle(dt float64) {
	r := math.Max(v.ra.radius, 1e-3)
	dTheta := math.Min(v.speed/r*dt, v.ra.remaining)
	v.ra.angle += dTheta
	v.ra.remaining -= dTheta
	v.ra.traveled += dTheta
	v.position = geoutil.Add(v.ra.center, geoutil.Scale(geoutil.Unit(v.ra.angle), r))
	v.position.Z = v.ra.center.Z
	v.heading = geoutil.NormalizeAngle(v.ra.angle + math.Pi/2)
}

// updateEnterRoundabout 驶入环岛：半径在0.5s内线性过渡到目标车道半径
func (v *Vehicle) updateEnterRoundabout(dt float64) {
	v.ra.elapsed += dt
	u := math.Min(v.ra.elapsed/roundaboutBlendTime, 1)
	v.ra.radius = v.ra.startRadius + (v.ra.targetRadius-v.ra.startRadius)*u
	v.advanceAngle(dt)
	switch {
	case v.ra.remaining <= angleEpsilon:
		v.state = ExitRoundabout
	case u >= 1:
		v.state = InRoundabout
	}
}

// updateInRoundabout 环岛内严格沿圆周行驶，直到剩余转角耗尽
func (v *Vehicle) updateInRoundabout(dt float64) {
	v.advanceAngle(dt)
	if v.ra.remaining <= angleEpsilon {
		v.state = ExitRoundabout
	}
}

// updateExitRoundabout 驶出环岛
// 功能：切换到下一路段，进度取当前位置的投影（保证纵向连续），位置与朝向向新车道插值
func (v *Vehicle) updateExitRoundabout(dt float64) {
	next := v.ra.next
	v.segment = next
	v.lane = next.ClampLane(v.lane)
	v.t = max(0, next.ComputeProgressOnSegment(v.position))
	target := next.TrafficLanePosition(v.lane, v.t)
	v.position = geometry.Blend(v.position, target, exitPositionBlend)
	v.heading = geoutil.BlendAngle(v.heading, next.HeadingAt(v.t), math.Min(1, exitHeadingRate*dt))
	v.state = OnRoad
}

// beginTransition 开始路口转向
// 功能：以当前位置、节点中心、下一路段0号车道起点为控制点，时长为控制多边形长度除以速度
func (v *Vehicle) beginTransition(n *node.Node, next *segment.Segment) {
	p0 := v.position
	p1 := n.Position()
	p2 := next.TrafficLanePosition(0, 0)
	polygon := geoutil.Distance2D(p0, p1) + geoutil.Distance2D(p1, p2)
	duration := maxTransitionTime
	if v.speed > 1e-6 {
		duration = lo.Clamp(polygon/v.speed, minTransitionTime, maxTransitionTime)
	}
	v.tr = transitionContext{p0: p0, p1: p1, p2: p2, duration: duration, next: next}
	v.state = IntersectionTransition
}

// updateTransition 路口转向，等待时进度冻结
func (v *Vehicle) updateTransition(dt float64) {
	if !v.waiting {
		v.tr.progress += dt / v.tr.duration
	}
	if v.tr.progress >= 1 {
		next := v.tr.next
		v.position = v.tr.p2
		v.segment = next
		v.lane = 0
		v.t = 0
		v.heading = v.laneHeading(next, 0)
		v.state = OnRoad
		return
	}
	pos, tangent := geoutil.QuadraticBezier(v.tr.p0, v.tr.p1, v.tr.p2, v.tr.progress)
	v.position = pos
	if geoutil.Len2D(tangent) > 1e-6 {
		v.heading = geoutil.Heading(tangent)
	}
}
