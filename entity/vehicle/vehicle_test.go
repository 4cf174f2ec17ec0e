package vehicle_test

import (
	"math"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/network"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

const dt = 0.1

// A(0,0) -> B(100,0) -> C(200,0)
func lineNetwork(t *testing.T, typB node.Type) (*network.Network, []*node.Node) {
	n := network.New(0)
	a := n.AddNode(geometry.Point{X: 0}, node.SimpleIntersection, 5)
	b := n.AddNode(geometry.Point{X: 100}, typB, 5)
	c := n.AddNode(geometry.Point{X: 200}, node.SimpleIntersection, 5)
	for _, pair := range [][2]*node.Node{{a, b}, {b, c}} {
		_, err := n.AddRoadSegment(pair[0], pair[1], 2, false)
		require.NoError(t, err)
	}
	return n, []*node.Node{a, b, c}
}

// 在路线起点创建车辆
func spawn(t *testing.T, f *vehicle.Factory, c vehicle.Category, route []*segment.Segment) *vehicle.Vehicle {
	v := f.Create(c, route[0].TrafficLanePosition(0, 0))
	require.NoError(t, v.SetRoute(route))
	return v
}

func TestNoLeaderEndToEnd(t *testing.T) {
	n, nodes := lineNetwork(t, node.SimpleIntersection)
	route := n.RouteFromPath(nodes)
	require.Len(t, route, 2)
	v := spawn(t, vehicle.NewFactory(nil, nil), vehicle.Car, route)

	elapsed := 0.
	lastT := map[int32]float64{}
	sawTransition := false
	for !v.IsFinished() && elapsed < 60 {
		v.Update(dt, nil)
		elapsed += dt
		assert.False(t, v.IsWaiting())
		if v.State() == vehicle.IntersectionTransition {
			sawTransition = true
			continue
		}
		id := v.Segment().ID()
		assert.GreaterOrEqual(t, v.T(), lastT[id], "t must not decrease on segment %d", id)
		lastT[id] = v.T()
	}
	require.True(t, v.IsFinished())
	assert.True(t, v.ReadyToRemove())
	assert.True(t, sawTransition)
	// 总距离约200，平均速度在加速后接近最高速度
	assert.InDelta(t, 17, elapsed, 5)
	assert.InDelta(t, 200, v.Position().X, 10)
	assert.Equal(t, route[1], v.Segment())
}

func TestSafetyBraking(t *testing.T) {
	n, nodes := lineNetwork(t, node.SimpleIntersection)
	f := vehicle.NewFactory(nil, nil)
	seg := n.SegmentBetween(nodes[0].ID(), nodes[1].ID())
	v := f.Create(vehicle.Car, seg.TrafficLanePosition(0, 0.5))
	require.NoError(t, v.SetRoute([]*segment.Segment{seg}))
	assert.InDelta(t, 0.5, v.T(), 1e-6)

	// 前车在正前方5单位：本步停车
	v.SetSpeed(12)
	ahead := &vehicle.LeaderView{ID: 99, Position: geoutil.Add(v.Position(), geometry.Point{X: 5})}
	v.Update(dt, ahead)
	assert.Equal(t, 0., v.Speed())
	assert.True(t, v.IsWaiting())

	// 前车在15单位：急减速但不低于10
	v.SetSpeed(13)
	ahead.Position = geoutil.Add(v.Position(), geometry.Point{X: 15})
	v.Update(dt, ahead)
	assert.InDelta(t, 10, v.Speed(), 1e-9)
	assert.False(t, v.IsWaiting())

	// 前车在后方：不受影响
	v.SetSpeed(10)
	behind := &vehicle.LeaderView{ID: 99, Position: geoutil.Sub(v.Position(), geometry.Point{X: 5})}
	v.Update(dt, behind)
	assert.InDelta(t, 10.25, v.Speed(), 1e-9)
}

func TestIDMFollowing(t *testing.T) {
	n, nodes := lineNetwork(t, node.SimpleIntersection)
	traffic := config.Traffic{FollowModel: config.FollowModelIDM}
	traffic.Normalize()
	f := vehicle.NewFactory(nil, nil)
	f.SetTraffic(traffic)
	seg := n.SegmentBetween(nodes[0].ID(), nodes[1].ID())
	v := f.Create(vehicle.Car, seg.TrafficLanePosition(0, 0.2))
	require.NoError(t, v.SetRoute([]*segment.Segment{seg}))

	v.SetSpeed(13.9)
	stopped := &vehicle.LeaderView{ID: 2, Position: geoutil.Add(v.Position(), geometry.Point{X: 25})}
	v.Update(dt, stopped)
	assert.Less(t, v.Speed(), 13.9)
	assert.False(t, v.IsWaiting())
}

func TestRoundaboutAngleConservation(t *testing.T) {
	n := network.New(0)
	a := n.AddNode(geometry.Point{X: 0, Y: 0}, node.SimpleIntersection, 5)
	r := n.AddNode(geometry.Point{X: 200, Y: 0}, node.Roundabout, 30)
	c := n.AddNode(geometry.Point{X: 200, Y: 200}, node.SimpleIntersection, 5)
	ar, err := n.AddRoadSegment(a, r, 2, false)
	require.NoError(t, err)
	rc, err := n.AddRoadSegment(r, c, 2, false)
	require.NoError(t, err)
	v := spawn(t, vehicle.NewFactory(nil, nil), vehicle.Car, []*segment.Segment{ar, rc})

	exit := rc.TrafficLanePosition(0, 0)
	exitAngle := geoutil.Heading(geoutil.Sub(exit, r.Position()))
	entryAngle := math.NaN()
	prev := v.State()
	states := map[vehicle.State]bool{}
	for i := 0; i < 1000 && !v.IsFinished(); i++ {
		pos := v.Position()
		v.Update(dt, nil)
		states[v.State()] = true
		if prev == vehicle.OnRoad && v.State() == vehicle.EnterRoundabout {
			entryAngle = geoutil.Heading(geoutil.Sub(pos, r.Position()))
			assert.Same(t, rc, v.PendingSegment())
		}
		if v.State() == vehicle.InRoundabout {
			// 环岛内严格沿圆周：0号车道半径0.75R
			assert.InDelta(t, 22.5, geoutil.Distance2D(v.Position(), r.Position()), 1e-6)
		}
		prev = v.State()
	}
	require.False(t, math.IsNaN(entryAngle))
	assert.True(t, states[vehicle.InRoundabout])
	assert.True(t, states[vehicle.ExitRoundabout])
	assert.True(t, v.IsFinished())
	assert.InDelta(t, geoutil.ForwardArc(entryAngle, exitAngle), v.RoundaboutTraveled(), 1e-6)
	assert.Greater(t, v.RoundaboutTraveled(), math.Pi)
}

func TestRedLightHold(t *testing.T) {
	// B为信号灯路口，ID=2，初始相位为红灯；不推进信号灯
	n, nodes := lineNetwork(t, node.TrafficLight)
	require.NotNil(t, nodes[1].Light())
	v := spawn(t, vehicle.NewFactory(nil, nil), vehicle.Car, n.RouteFromPath(nodes))
	for range 200 {
		v.Update(dt, nil)
	}
	assert.Equal(t, vehicle.OnRoad, v.State())
	assert.Equal(t, 0., v.Speed())
	assert.True(t, v.IsWaiting())
	seg := v.Segment()
	assert.LessOrEqual(t, (1-v.T())*seg.Length(), config.DefaultStopDistance)

	// 应急车辆不受信号灯约束
	e := spawn(t, vehicle.NewFactory(nil, nil), vehicle.Ambulance, n.RouteFromPath(nodes))
	for i := 0; i < 400 && !e.IsFinished(); i++ {
		e.Update(dt, nil)
	}
	assert.True(t, e.IsFinished())
}

func TestBusDwell(t *testing.T) {
	n := network.New(0)
	a := n.AddNode(geometry.Point{X: 0}, node.SimpleIntersection, 5)
	b := n.AddNode(geometry.Point{X: 1000}, node.SimpleIntersection, 5)
	seg, err := n.AddRoadSegment(a, b, 2, false)
	require.NoError(t, err)
	v := spawn(t, vehicle.NewFactory(nil, nil), vehicle.Bus, []*segment.Segment{seg})

	for range 125 {
		v.Update(dt, nil)
	}
	assert.True(t, v.Dwelling())
	assert.Equal(t, 0., v.Speed())
	assert.False(t, v.IsWaiting())
	for range 45 {
		v.Update(dt, nil)
	}
	assert.False(t, v.Dwelling())
	assert.Greater(t, v.Speed(), 0.)
}

func TestYield(t *testing.T) {
	n := network.New(0)
	a := n.AddNode(geometry.Point{X: 0}, node.SimpleIntersection, 5)
	b := n.AddNode(geometry.Point{X: 1000}, node.SimpleIntersection, 5)
	seg, err := n.AddRoadSegment(a, b, 4, false)
	require.NoError(t, err)
	f := vehicle.NewFactory(nil, nil)
	v := f.Create(vehicle.Car, seg.TrafficLanePosition(1, 0))
	require.NoError(t, v.SetRoute([]*segment.Segment{seg}))
	assert.True(t, v.ChangeLane(1))
	v.SetSpeed(13)

	v.SetYield(true, false)
	assert.Equal(t, int32(0), v.Lane())
	v.Update(dt, nil)
	assert.InDelta(t, 13.9/2, v.Speed(), 1e-9)

	v.SetYield(true, true)
	v.Update(dt, nil)
	assert.Equal(t, 0., v.Speed())

	v.SetYield(false, false)
	v.Update(dt, nil)
	assert.Greater(t, v.Speed(), 0.)
}

func TestFactoryAndParams(t *testing.T) {
	params, err := vehicle.ParamsFromConfig(map[string]config.VehicleType{
		"car": {MaxSpeed: 20, Color: "#FF0000"},
	})
	require.NoError(t, err)
	f := vehicle.NewFactory(params, vehicle.StaticModels{vehicle.Bus: "bus.glb"})
	car := f.Create(vehicle.Car, geometry.Point{})
	bus := f.Create(vehicle.Bus, geometry.Point{})
	assert.Equal(t, int32(1), car.ID())
	assert.Equal(t, int32(2), bus.ID())
	assert.Equal(t, 20., car.Params().MaxSpeed)
	assert.Equal(t, "#FF0000", car.Params().Color.String())
	assert.Equal(t, "bus.glb", bus.Params().Model)
	assert.True(t, bus.Params().Large)
	assert.True(t, vehicle.Police.IsEmergency())
	assert.Len(t, f.Categories(), 6)

	_, err = vehicle.ParamsFromConfig(map[string]config.VehicleType{"tank": {}})
	assert.Error(t, err)
	_, err = vehicle.ParseColor("#12")
	assert.Error(t, err)
	assert.ErrorIs(t, car.SetRoute(nil), vehicle.ErrEmptyRoute)

	// 未设置路线的车辆不移动
	car.Update(dt, nil)
	assert.Equal(t, geometry.Point{}, car.Position())
}
