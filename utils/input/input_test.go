package input_test

import (
	"os"
	"path/filepath"
	"testing"

	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/network"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/input"
)

const topologyYAML = `
topology:
  nodes:
    - id: 10
      position: [0, 0]
    - id: 20
      pos: [100, 0.2, 50]
      type: roundabout
      radius: 12
    - id: 30
      position: [200, 0]
      type: TRAFFIC_LIGHT
  routes:
    - {from: 10, to: 20}
    - {from: 20, to: 30, lanes: 4, oneway: true, visible: "false"}
vehicle_types:
  BUS:
    max_speed: 9
    color: "#112233"
`

const topologyJSON = `{
	"topology": {
		"nodes": [{"position": [0, 0], "type": "roundabout", "radius": 10}, {"position": [80, 0]}],
		"routes": [{"from": 1, "to": 2, "curved": true, "visible": true, "oneway": "true"}]
	}
}`

func TestTopologyDefaults(t *testing.T) {
	tf, err := input.ParseTopology([]byte(topologyYAML), false)
	require.NoError(t, err)
	assert.InDelta(t, 9, tf.VehicleTypes["BUS"].MaxSpeed, 1e-9)

	n := network.New(0)
	nodes, err := tf.Build(n)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	a, b, c := nodes[10], nodes[20], nodes[30]
	assert.Equal(t, node.SimpleIntersection, a.Type())
	assert.InDelta(t, node.DefaultRadius, a.Radius(), 1e-9)
	assert.Equal(t, node.Roundabout, b.Type())
	assert.InDelta(t, 12, b.Radius(), 1e-9)
	assert.InDelta(t, 100, b.Position().X, 1e-9)
	assert.InDelta(t, 50, b.Position().Y, 1e-9)
	assert.Equal(t, node.TrafficLight, c.Type())
	assert.NotNil(t, c.Light())
	assert.Len(t, n.Intersections(), 3)

	// 双向道路：可见的正向路段与不可见的反向路段
	ab := n.SegmentBetween(a.ID(), b.ID())
	ba := n.SegmentBetween(b.ID(), a.ID())
	require.NotNil(t, ab)
	require.NotNil(t, ba)
	assert.EqualValues(t, input.DefaultLanes, ab.Lanes())
	assert.True(t, ab.Visible())
	assert.False(t, ba.Visible())

	bc := n.SegmentBetween(b.ID(), c.ID())
	require.NotNil(t, bc)
	assert.EqualValues(t, 4, bc.Lanes())
	assert.False(t, bc.Visible())
	assert.Nil(t, n.SegmentBetween(c.ID(), b.ID()))
	assert.Len(t, n.Segments(), 3)
}

func TestTopologyJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "net.json")
	require.NoError(t, os.WriteFile(path, []byte(topologyJSON), 0o644))

	tf, err := input.LoadTopologyFile(path)
	require.NoError(t, err)
	n := network.New(0)
	nodes, err := tf.Build(n)
	require.NoError(t, err)

	s := n.SegmentBetween(nodes[1].ID(), nodes[2].ID())
	require.NotNil(t, s)
	assert.True(t, s.Curved())
	assert.True(t, s.Visible())
	assert.Len(t, n.Segments(), 1)
}

func TestTopologyErrors(t *testing.T) {
	tf, err := input.ParseTopology([]byte(`{"topology": {"nodes": [{"id": 1}], "routes": [{"from": 1, "to": 2}]}}`), true)
	require.NoError(t, err)
	_, err = tf.Build(network.New(0))
	assert.ErrorIs(t, err, input.ErrUnknownNode)

	tf, err = input.ParseTopology([]byte("topology:\n  nodes: [{id: 1}, {id: 1}]\n"), false)
	require.NoError(t, err)
	_, err = tf.Build(network.New(0))
	assert.ErrorIs(t, err, input.ErrDuplicateNode)

	_, err = input.ParseTopology([]byte("topology: ["), false)
	assert.Error(t, err)
}

func polyline(ps ...[2]float64) *geov2.Polyline {
	nodes := make([]*geov2.XYPosition, 0, len(ps))
	for _, p := range ps {
		nodes = append(nodes, &geov2.XYPosition{X: p[0], Y: p[1]})
	}
	return &geov2.Polyline{Nodes: nodes}
}

func conn(id int32) []*mapv2.LaneConnection {
	return []*mapv2.LaneConnection{{Id: id}}
}

// 两个路口之间的一条双车道道路
// 路口1位于(0,0)附近，路口2位于(100,0)附近
func twoJunctionMap() *mapv2.Map {
	driving := mapv2.LaneType_LANE_TYPE_DRIVING
	return &mapv2.Map{
		Lanes: []*mapv2.Lane{
			{Id: 1, Type: driving, CenterLine: polyline([2]float64{10, 0}, [2]float64{90, 0}), Predecessors: conn(11), Successors: conn(21)},
			{Id: 2, Type: driving, CenterLine: polyline([2]float64{10, 3}, [2]float64{90, 3}), Predecessors: conn(11), Successors: conn(21)},
			{Id: 3, Type: mapv2.LaneType_LANE_TYPE_WALKING, CenterLine: polyline([2]float64{10, 6}, [2]float64{90, 6})},
			{Id: 11, Type: driving, CenterLine: polyline([2]float64{-10, 0}, [2]float64{10, 0})},
			{Id: 21, Type: driving, CenterLine: polyline([2]float64{90, 0}, [2]float64{110, 0})},
		},
		Roads: []*mapv2.Road{{Id: 100, LaneIds: []int32{1, 2, 3}}},
		Junctions: []*mapv2.Junction{
			{Id: 1000, LaneIds: []int32{11}},
			{Id: 2000, LaneIds: []int32{21}, FixedProgram: &mapv2.TrafficLight{JunctionId: 2000}},
		},
	}
}

func TestBuildFromMap(t *testing.T) {
	n := network.New(0)
	nodes, err := input.BuildFromMap(twoJunctionMap(), n)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	require.Len(t, n.Nodes(), 2)
	a, b := n.Nodes()[0], n.Nodes()[1]
	assert.InDelta(t, 0, a.Position().X, 1e-9)
	assert.InDelta(t, 100, b.Position().X, 1e-9)
	assert.InDelta(t, 10, a.Radius(), 1e-9)
	assert.Equal(t, node.SimpleIntersection, a.Type())
	assert.Equal(t, node.TrafficLight, b.Type())

	s := n.SegmentBetween(a.ID(), b.ID())
	require.NotNil(t, s)
	assert.EqualValues(t, 2, s.Lanes())
	assert.Len(t, n.Intersections(), 2)
	assert.Same(t, a, nodes[1000])
	assert.Same(t, b, nodes[2000])

	in := &input.Input{Map: twoJunctionMap()}
	require.NoError(t, in.Build(network.New(0)))
	ids, err := in.NodeIDs([]int32{2000})
	require.NoError(t, err)
	assert.Equal(t, []int32{b.ID()}, ids)
}

func TestBuildFromMapBadConnection(t *testing.T) {
	m := twoJunctionMap()
	m.Lanes[1].Successors = conn(11)
	_, err := input.BuildFromMap(m, network.New(0))
	assert.ErrorIs(t, err, input.ErrBadMap)
}

func TestInitTopology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.yaml")
	require.NoError(t, os.WriteFile(path, []byte(topologyYAML), 0o644))

	in, err := input.Init(config.Config{Input: config.Input{Topology: path}}, "")
	require.NoError(t, err)
	require.NotNil(t, in.Topology)
	n := network.New(0)
	require.NoError(t, in.Build(n))
	assert.Len(t, n.Nodes(), 3)

	ids, err := in.NodeIDs([]int32{30, 10})
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 1}, ids)
	ids, err = in.NodeIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
	_, err = in.NodeIDs([]int32{10, 1})
	assert.ErrorIs(t, err, input.ErrUnknownNode)

	_, err = input.Init(config.Config{}, "")
	assert.ErrorIs(t, err, input.ErrNoMapSource)
}
