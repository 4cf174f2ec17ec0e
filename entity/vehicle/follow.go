package vehicle

import (
	"math"

	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

// IDM参数
const (
	idmHeadway = 1.8 // 期望车头时距
	idmBrakeB  = 4.0 // 舒适减速度
	idmTheta   = 4   // 速度指数
)

// updateSpeed 速度更新
// 算法说明：
// 1. 让行停车、红灯停车、停站：速度置0
// 2. 前车位于前向锥内（点积>leader_cone）：
//   - 距离<critical_distance：停车并标记等待
//   - 距离<min_distance：以brake_decel减速，不低于brake_speed_floor
//   - follow_model为idm时按IDM计算加速度
//
// 3. 否则按加速度加速
// 4. 速度限制在[0, 最高速度]，让行时最高速度减半
func (v *Vehicle) updateSpeed(dt float64, leader *LeaderView) {
	cfg := v.traffic
	v.waiting = false
	maxSpeed := v.params.MaxSpeed
	if v.yield {
		maxSpeed *= 0.5
	}
	if v.yieldStop || v.mustHoldForLight() {
		v.speed = 0
		v.waiting = true
		return
	}
	if v.updateDwell(dt) {
		v.speed = 0
		return
	}
	if leader != nil {
		to := geoutil.Sub(leader.Position, v.position)
		d := geoutil.Len2D(to)
		dot := 1.
		if d > 1e-6 {
			dot = geoutil.Dot2D(geoutil.Unit(v.heading), geoutil.Scale(to, 1/d))
		}
		if dot > cfg.LeaderCone {
			switch {
			case d < cfg.CriticalDistance:
				v.speed = 0
				v.waiting = true
				return
			case d < cfg.MinDistance:
				if v.speed > cfg.BrakeSpeedFloor {
					v.speed = max(cfg.BrakeSpeedFloor, v.speed-cfg.BrakeDecel*dt)
				}
				v.speed = lo.Clamp(v.speed, 0, maxSpeed)
				return
			case cfg.FollowModel == config.FollowModelIDM:
				acc := v.followIDM(leader.Speed, d, maxSpeed)
				v.speed = lo.Clamp(v.speed+acc*dt, 0, maxSpeed)
				return
			}
		}
	}
	v.speed = lo.Clamp(v.speed+v.params.Acceleration*dt, 0, maxSpeed)
}

// followIDM IDM跟驰加速度
// 说明：https://en.wikipedia.org/wiki/Intelligent_driver_model
// 最小车距取critical_distance，加速度限制在[-brake_decel, 加速度]
func (v *Vehicle) followIDM(aheadV, distance, targetV float64) float64 {
	a := v.params.Acceleration
	if distance <= 0 || targetV <= 0 {
		return -v.traffic.BrakeDecel
	}
	sStar := v.traffic.CriticalDistance + math.Max(
		0,
		v.speed*idmHeadway+v.speed*(v.speed-aheadV)/2/math.Sqrt(a*idmBrakeB),
	)
	acc := a * (1 - math.Pow(v.speed/targetV, idmTheta) - math.Pow(sStar/distance, 2))
	return lo.Clamp(acc, -v.traffic.BrakeDecel, a)
}

// mustHoldForLight 是否需要在停车线前等待红灯
// 说明：仅在路段上行驶时检查，应急车辆不受信号灯约束
func (v *Vehicle) mustHoldForLight() bool {
	if v.state != OnRoad || !v.traffic.ObeyLightsEnabled() || v.params.Category.IsEmergency() {
		return false
	}
	light := v.segment.End().Light()
	if light == nil {
		return false
	}
	switch light.State() {
	case mapv2.LightState_LIGHT_STATE_RED, mapv2.LightState_LIGHT_STATE_YELLOW:
		return (1-v.t)*v.segment.Length() <= v.traffic.StopDistance
	}
	return false
}

// updateDwell 停站计时，返回是否正在停站
func (v *Vehicle) updateDwell(dt float64) bool {
	if v.params.StopEvery <= 0 || v.state != OnRoad {
		return false
	}
	if v.dwell > 0 {
		v.dwell = max(0, v.dwell-dt)
		return v.dwell > 0
	}
	v.stopClock += dt
	if v.stopClock >= v.params.StopEvery {
		v.stopClock = 0
		v.dwell = v.params.StopDwell
		return v.dwell > 0
	}
	return false
}
