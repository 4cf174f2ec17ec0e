package emergency_test

import (
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadnet-sim/clock"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/emergency"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/network"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/route"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/traffic"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
)

const dt = 0.1

type fakeContext struct {
	clock   *clock.Clock
	config  *config.RuntimeConfig
	network *network.Network
	router  *route.PathFinder
	traffic *traffic.TrafficManager
	em      *emergency.Manager
}

func (c *fakeContext) Clock() *clock.Clock                        { return c.clock }
func (c *fakeContext) RuntimeConfig() *config.RuntimeConfig       { return c.config }
func (c *fakeContext) Network() entity.INetwork                   { return c.network }
func (c *fakeContext) Router() entity.IRouter                     { return c.router }
func (c *fakeContext) TrafficManager() entity.ITrafficManager     { return c.traffic }
func (c *fakeContext) EmergencyManager() entity.IEmergencyManager { return c.em }

// 按任务循环的顺序推进一步
func (c *fakeContext) step() {
	c.network.Prepare()
	c.traffic.Prepare()
	c.em.Update(dt)
	c.network.Update(dt)
	c.traffic.Update(dt)
}

// A(0,0) -> B(100,0)信号灯 -> C(200,0)
func setup(t *testing.T, hospitals ...config.Hospital) (*fakeContext, []*node.Node) {
	n := network.New(0)
	a := n.AddNode(geometry.Point{X: 0}, node.SimpleIntersection, 5)
	b := n.AddNode(geometry.Point{X: 100}, node.TrafficLight, 5)
	c := n.AddNode(geometry.Point{X: 200}, node.SimpleIntersection, 5)
	for _, pair := range [][2]*node.Node{{a, b}, {b, c}} {
		_, err := n.AddRoadSegment(pair[0], pair[1], 2, false)
		require.NoError(t, err)
	}
	ctx := &fakeContext{
		clock: clock.New(config.ControlStep{Interval: dt}),
		config: config.NewRuntimeConfig(config.Config{Control: config.Control{
			Emergency: config.Emergency{Hospitals: hospitals},
		}}),
		network: n,
		router:  route.New(n, 0),
	}
	ctx.traffic = traffic.NewManager(ctx, vehicle.NewFactory(nil, nil))
	ctx.em = emergency.NewManager(ctx)
	require.NoError(t, ctx.em.Init())
	return ctx, []*node.Node{a, b, c}
}

func TestAddHospital(t *testing.T) {
	ctx, nodes := setup(t, config.Hospital{Name: "north", Position: [3]float64{10, 20, 0}})
	em := ctx.em

	require.Len(t, em.Hospitals(), 1)
	assert.Equal(t, nodes[0], em.Hospitals()[0].Entry)
	require.Len(t, em.Units(), 3)
	kinds := make([]vehicle.Category, 0, 3)
	for _, u := range em.Units() {
		assert.True(t, u.Idle())
		assert.Equal(t, nodes[0], u.Base())
		kinds = append(kinds, u.Kind)
	}
	assert.Equal(t, []vehicle.Category{vehicle.Ambulance, vehicle.FireTruck, vehicle.Police}, kinds)

	empty := emergency.NewManager(&fakeContext{network: network.New(0)})
	assert.ErrorIs(t, empty.AddHospital("nowhere", geometry.Point{}), emergency.ErrEmptyNetwork)
}

func TestDispatchErrors(t *testing.T) {
	ctx, _ := setup(t, config.Hospital{Name: "h"})
	em := ctx.em

	_, err := em.Dispatch(vehicle.Car, geometry.Point{X: 200})
	assert.ErrorIs(t, err, emergency.ErrNotEmergency)

	id, err := em.Dispatch(vehicle.Ambulance, geometry.Point{X: 200})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	_, err = em.Dispatch(vehicle.Ambulance, geometry.Point{X: 200})
	assert.ErrorIs(t, err, emergency.ErrNoIdleUnit)
	_, err = em.Dispatch(vehicle.Police, geometry.Point{X: 200})
	assert.NoError(t, err)
}

func TestDispatchReachesDestination(t *testing.T) {
	ctx, nodes := setup(t, config.Hospital{Name: "h"})
	em := ctx.em

	id, err := em.Dispatch(vehicle.FireTruck, geometry.Point{X: 195, Y: 3})
	require.NoError(t, err)
	mission := em.Mission(id)
	require.NotNil(t, mission)
	assert.Equal(t, emergency.MissionPlanning, mission.Status)
	assert.Equal(t, nodes[2], mission.Destination)

	for i := 0; i < 600 && mission.Status != emergency.MissionCompleted; i++ {
		ctx.step()
	}
	require.Equal(t, emergency.MissionCompleted, mission.Status)
	require.NotNil(t, mission.Vehicle())
	assert.True(t, mission.Vehicle().IsFinished())

	unit := em.Units()[1]
	assert.Equal(t, vehicle.FireTruck, unit.Kind)
	assert.True(t, unit.Idle())
	assert.Equal(t, nodes[2], unit.Base())
}

func TestDispatchUnreachable(t *testing.T) {
	ctx, _ := setup(t)
	// 只有单向路段，从C无法回到A
	require.NoError(t, ctx.em.AddHospital("east", geometry.Point{X: 200}))

	id, err := ctx.em.Dispatch(vehicle.Police, geometry.Point{})
	require.NoError(t, err)
	ctx.step()
	mission := ctx.em.Mission(id)
	assert.Equal(t, emergency.MissionFailed, mission.Status)
	assert.True(t, ctx.em.Units()[2].Idle())
}

func TestPreemptionAndYield(t *testing.T) {
	ctx, nodes := setup(t, config.Hospital{Name: "h"})
	seg := ctx.network.SegmentBetween(nodes[0].ID(), nodes[1].ID())
	rt := ctx.network.RouteFromPath(nodes)

	near := ctx.traffic.Factory().Create(vehicle.Car, seg.TrafficLanePosition(0, 0.2))
	far := ctx.traffic.Factory().Create(vehicle.Car, seg.TrafficLanePosition(0, 0.5))
	for _, v := range []*vehicle.Vehicle{near, far} {
		require.NoError(t, v.SetRoute(rt))
		ctx.traffic.AddVehicle(v)
	}
	ctx.traffic.Prepare()

	_, err := ctx.em.Dispatch(vehicle.Ambulance, geometry.Point{X: 200})
	require.NoError(t, err)
	ctx.em.Update(dt)

	assert.True(t, near.Yielding())
	assert.True(t, far.Yielding())
	// 距离小于yield_stop_range的车辆停车
	near.Update(dt, nil)
	assert.Zero(t, near.Speed())
	assert.True(t, near.IsWaiting())

	light := nodes[1].Light()
	require.NotNil(t, light)
	ctx.network.Prepare()
	assert.True(t, light.HasEmergencyOverride())
}
