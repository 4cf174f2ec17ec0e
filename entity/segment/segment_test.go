package segment_test

import (
	"math"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

func newStraight(lanes int32) *segment.Segment {
	a := node.New(1, geometry.Point{X: 0, Y: 0}, node.SimpleIntersection, 5)
	b := node.New(2, geometry.Point{X: 100, Y: 0}, node.SimpleIntersection, 5)
	return segment.New(1, a, b, lanes, false, 16)
}

func TestStraightGeometry(t *testing.T) {
	s := newStraight(2)
	assert.InDelta(t, 100-2*4.75, s.Length(), 1e-6)
	assert.InDelta(t, 1, s.Direction().X, 1e-9)
	assert.Len(t, s.Points(), 21)
	assert.False(t, s.Curved())
	assert.Equal(t, int32(1), s.ForwardLanes())
	assert.Equal(t, 32., s.Width())
}

func TestTwoLaneOffsets(t *testing.T) {
	s := newStraight(2)
	p0 := s.TrafficLanePosition(0, 0.5)
	p1 := s.TrafficLanePosition(1, 0.5)
	// 朝+X行驶，右侧为-Y
	assert.InDelta(t, 50, p0.X, 1e-6)
	assert.InDelta(t, -8, p0.Y, 1e-6)
	assert.InDelta(t, 8, p1.Y, 1e-6)
}

func TestFourLaneSymmetry(t *testing.T) {
	s := newStraight(4)
	assert.Equal(t, int32(2), s.ForwardLanes())
	for _, tt := range []float64{0, 0.3, 0.7, 1} {
		p0 := s.TrafficLanePosition(0, tt)
		p1 := s.TrafficLanePosition(1, tt)
		p2 := s.TrafficLanePosition(2, tt)
		p3 := s.TrafficLanePosition(3, tt)
		assert.InDelta(t, -p0.Y, p3.Y, 1e-6)
		assert.InDelta(t, -p1.Y, p2.Y, 1e-6)
		assert.InDelta(t, 24, math.Abs(p0.Y), 1e-6)
		assert.InDelta(t, 8, math.Abs(p1.Y), 1e-6)
		assert.Less(t, p0.Y, 0.)
	}
}

func TestProgressRoundTrip(t *testing.T) {
	for _, lanes := range []int32{1, 2, 4} {
		s := newStraight(lanes)
		for lane := int32(0); lane < lanes; lane++ {
			for i := 0; i <= 20; i++ {
				tt := float64(i) / 20
				p := s.ComputeProgressOnSegment(s.TrafficLanePosition(lane, tt))
				assert.InDelta(t, tt, p, 1e-6, "lanes=%d lane=%d t=%f", lanes, lane, tt)
			}
		}
	}
}

func TestProgressOffSegment(t *testing.T) {
	s := newStraight(2)
	// 容差 0.75*32+5 = 29
	assert.Equal(t, -1., s.ComputeProgressOnSegment(geometry.Point{X: 50, Y: 40}))
	assert.InDelta(t, 0.5, s.ComputeProgressOnSegment(geometry.Point{X: 50, Y: 20}), 1e-6)
	// 起点之前的点截断到0
	assert.InDelta(t, 0, s.ComputeProgressOnSegment(geometry.Point{X: 0, Y: 0}), 1e-9)
}

func TestCurvedToRoundabout(t *testing.T) {
	a := node.New(1, geometry.Point{X: 0, Y: 0}, node.SimpleIntersection, 5)
	r := node.New(2, geometry.Point{X: 200, Y: 0}, node.Roundabout, 30)
	s := segment.New(1, a, r, 2, true, 16)
	assert.True(t, s.Curved())
	assert.Len(t, s.Points(), 41)
	// 终点内缩max(0.8*30, 16)=24
	end := s.Points()[len(s.Points())-1]
	assert.InDelta(t, 176, end.X, 1e-6)
	// 曲线长度不短于端点直线距离
	assert.GreaterOrEqual(t, s.Length(), geoutil.Distance2D(s.Points()[0], end)-1e-9)

	// 未请求曲线时仍为直线
	straight := segment.New(2, a, r, 2, false, 16)
	assert.False(t, straight.Curved())
}

func TestCloseNodesKeepPositiveLength(t *testing.T) {
	a := node.New(1, geometry.Point{X: 0, Y: 0}, node.SimpleIntersection, 20)
	b := node.New(2, geometry.Point{X: 10, Y: 0}, node.SimpleIntersection, 20)
	s := segment.New(1, a, b, 2, false, 16)
	assert.Greater(t, s.Length(), 0.)
	assert.Len(t, s.LanePoints(0), 21)
}
