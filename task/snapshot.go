package task

import (
	"math"
	"strings"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/transport/websocket"
)

// Snapshot 当前步的渲染快照
// 说明：只包含未到达终点的车辆和有信号灯的节点
func (ctx *Context) Snapshot() websocket.Snapshot {
	vs := lo.FilterMap(ctx.trafficManager.Vehicles(), func(v *vehicle.Vehicle, _ int) (websocket.VehicleState, bool) {
		if v.IsFinished() {
			return websocket.VehicleState{}, false
		}
		p := v.Params()
		pos := v.Position()
		s := websocket.VehicleState{
			ID:       v.ID(),
			Category: v.Category().String(),
			X:        pos.X,
			Y:        pos.Y,
			Heading:  v.Heading(),
			Speed:    v.Speed(),
			Segment:  -1,
			Lane:     v.Lane(),
			State:    v.State().String(),
			Waiting:  v.IsWaiting(),
			Yielding: v.Yielding(),
			Color:    p.Color.String(),
			Model:    p.Model,
		}
		if seg := v.Segment(); seg != nil {
			s.Segment = seg.ID()
		}
		return s, true
	})
	lights := lo.FilterMap(ctx.network.Nodes(), func(n *node.Node, _ int) (websocket.LightState, bool) {
		l := n.Light()
		if l == nil {
			return websocket.LightState{}, false
		}
		remaining := l.RemainingTime()
		if math.IsInf(remaining, 0) {
			remaining = -1 // 信号灯关闭
		}
		return websocket.LightState{
			NodeID:    n.ID(),
			State:     strings.TrimPrefix(l.State().String(), "LIGHT_STATE_"),
			Remaining: remaining,
			Override:  l.HasEmergencyOverride(),
		}, true
	})
	return websocket.Snapshot{Vehicles: vs, Lights: lights}
}

func (ctx *Context) snapshotMessage() *websocket.Message {
	return &websocket.Message{
		Event: "snapshot",
		Step:  ctx.clock.Step,
		T:     ctx.clock.T,
		Data:  ctx.Snapshot(),
	}
}
