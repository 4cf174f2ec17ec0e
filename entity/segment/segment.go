package segment

import (
	"fmt"
	"math"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

var log = logrus.WithField("module", "segment")

const (
	DefaultLaneWidth = 16. // 默认车道宽度

	straightSamples = 20 // 直线几何的采样段数（21个点）
	curvedSamples   = 40 // 曲线几何的采样段数

	projectionWidthFactor = 0.75 // 投影容差 = 0.75*路宽 + 5
	projectionMargin      = 5.
)

// Segment 有向路段
// 功能：连接两个节点的有向边，提供车道中心线位置、进度投影等几何计算
// 说明：几何中心线为采样后的折线（直线或三次贝塞尔曲线），两端按节点半径内缩；
// 车道沿中心线右侧法向偏移，0号车道为最外侧正向车道
type Segment struct {
	id         int32
	start, end *node.Node
	lanes      int32
	laneWidth  float64
	curved     bool // 是否使用了曲线几何
	visible    bool // 是否需要渲染

	line           []geometry.Point             // 中心线折线
	lineLengths    []float64                    // 中心线折线的累积长度
	lineDirections []geometry.PolylineDirection // 中心线折线每一段的方向（atan2）
	length         float64                      // 中心线长度
	direction      geometry.Point               // 起点指向终点的单位向量
}

// New 创建路段并生成几何
// 功能：根据起止节点计算内缩后的端点，生成直线或曲线中心线
// 参数：id-路段ID，start/end-起止节点，lanes-车道数，curved-是否请求曲线连接，laneWidth-车道宽度
// 说明：仅当请求曲线且任一端为环岛时才使用曲线几何；调用方负责校验参数
func New(id int32, start, end *node.Node, lanes int32, curved bool, laneWidth float64) *Segment {
	if laneWidth <= 0 {
		laneWidth = DefaultLaneWidth
	}
	s := &Segment{
		id:        id,
		start:     start,
		end:       end,
		lanes:     lanes,
		laneWidth: laneWidth,
		visible:   true,
	}
	s.buildGeometry(curved)
	return s
}

// buildGeometry 生成中心线
// 算法说明：
// 1. 计算起止方向与内缩距离（普通节点0.95*半径，环岛max(0.8*半径, 路宽/2)）
// 2. 节点间距过小时按比例缩小内缩距离，保证路段长度为正
// 3. 曲线：控制点沿两端连接切向延伸0.3倍端点距离，采样40段
// 4. 直线：均匀采样20段
func (s *Segment) buildGeometry(curved bool) {
	startPos, endPos := s.start.Position(), s.end.Position()
	s.direction = geoutil.Normalize2D(geoutil.Sub(endPos, startPos))
	totalWidth := s.Width()

	startOffset := s.start.Radius() * 0.95
	endOffset := s.end.Radius() * 0.95
	if s.start.IsRoundabout() {
		startOffset = math.Max(s.start.Radius()*0.8, totalWidth*0.5)
	}
	if s.end.IsRoundabout() {
		endOffset = math.Max(s.end.Radius()*0.8, totalWidth*0.5)
	}
	distance := geoutil.Distance2D(startPos, endPos)
	if sum := startOffset + endOffset; sum > distance*0.9 && sum > 0 {
		k := distance * 0.9 / sum
		startOffset *= k
		endOffset *= k
	}
	a := geoutil.Add(startPos, geoutil.Scale(s.direction, startOffset))
	b := geoutil.Sub(endPos, geoutil.Scale(s.direction, endOffset))

	if curved && (s.start.IsRoundabout() || s.end.IsRoundabout()) {
		s.curved = true
		tangentStart := s.start.ConnectionTangent(s.direction)
		tangentEnd := s.end.ConnectionTangent(geoutil.Scale(s.direction, -1))
		d := geoutil.Distance2D(a, b)
		c1 := geoutil.Add(a, geoutil.Scale(tangentStart, d*0.3))
		c2 := geoutil.Sub(b, geoutil.Scale(tangentEnd, d*0.3))
		s.line = lo.Times(curvedSamples+1, func(i int) geometry.Point {
			return geoutil.CubicBezier(a, c1, c2, b, float64(i)/curvedSamples)
		})
	} else {
		s.line = lo.Times(straightSamples+1, func(i int) geometry.Point {
			return geometry.Blend(a, b, float64(i)/straightSamples)
		})
	}
	s.lineLengths = geometry.GetPolylineLengths2D(s.line)
	s.length = s.lineLengths[len(s.lineLengths)-1]
	s.lineDirections = geometry.GetPolylineDirections(s.line)
}

func (s *Segment) ID() int32 {
	return s.id
}

func (s *Segment) Start() *node.Node {
	return s.start
}

func (s *Segment) End() *node.Node {
	return s.end
}

// 车道总数（含反向车道）
func (s *Segment) Lanes() int32 {
	return s.lanes
}

func (s *Segment) LaneWidth() float64 {
	return s.laneWidth
}

// 路宽
func (s *Segment) Width() float64 {
	return float64(s.lanes) * s.laneWidth
}

// 获取路段长度
func (s *Segment) Length() float64 {
	return s.length
}

// 起点指向终点的单位向量
func (s *Segment) Direction() geometry.Point {
	return s.direction
}

func (s *Segment) Curved() bool {
	return s.curved
}

func (s *Segment) Visible() bool {
	return s.visible
}

func (s *Segment) SetVisible(visible bool) {
	s.visible = visible
}

// 中心线折线（只读）
func (s *Segment) Points() []geometry.Point {
	return s.line
}

// ForwardLanes 正向车道数
// 说明：不超过2条车道时只有0号车道为正向；更多车道时前一半为正向
func (s *Segment) ForwardLanes() int32 {
	if s.lanes <= 2 {
		return 1
	}
	return s.lanes / 2
}

// ClampLane 将车道号限制在正向车道范围内
func (s *Segment) ClampLane(lane int32) int32 {
	return lo.Clamp(lane, 0, s.ForwardLanes()-1)
}

// LaneOffset 车道中心相对道路中心线的横向偏移（沿右侧法向为正）
// 说明：
//   - 不超过2条车道：0号+0.5w（正向），1号-0.5w（反向）
//   - 3条及以上：i号偏移((n-1)/2 - i)*w，关于中心线对称
func (s *Segment) LaneOffset(lane int32) float64 {
	lane = lo.Clamp(lane, 0, s.lanes-1)
	if s.lanes <= 2 {
		if lane == 0 {
			return 0.5 * s.laneWidth
		}
		return -0.5 * s.laneWidth
	}
	return (float64(s.lanes-1)/2 - float64(lane)) * s.laneWidth
}

// 根据中心线s坐标计算切向角度
func (s *Segment) directionByS(sPos float64) geometry.PolylineDirection {
	if len(s.lineDirections) == 0 {
		return geometry.PolylineDirection{}
	}
	sPos = lo.Clamp(sPos, s.lineLengths[0], s.lineLengths[len(s.lineLengths)-1])
	if i := sort.SearchFloat64s(s.lineLengths, sPos); i == 0 {
		return s.lineDirections[0]
	} else {
		return s.lineDirections[i-1]
	}
}

// 将中心线s坐标转换为xyz坐标
func (s *Segment) positionByS(sPos float64) (pos geometry.Point) {
	sPos = lo.Clamp(sPos, s.lineLengths[0], s.lineLengths[len(s.lineLengths)-1])
	if i := sort.SearchFloat64s(s.lineLengths, sPos); i == 0 {
		pos = s.line[0]
	} else {
		sHigh, sLow := s.lineLengths[i], s.lineLengths[i-1]
		if sHigh-sLow <= 0 {
			return s.line[i]
		}
		k := (sPos - sLow) / (sHigh - sLow)
		if k < 0 || k > 1 {
			log.Panicf("segment: positionByS(), bad k %v. sHigh=%f, sLow=%f, s=%f", k, sHigh, sLow, sPos)
		}
		pos = geometry.Blend(s.line[i-1], s.line[i], k)
	}
	return
}

// HeadingAt 中心线在进度t处的切向角度
func (s *Segment) HeadingAt(t float64) float64 {
	if s.length <= 0 {
		return geoutil.Heading(s.direction)
	}
	return s.directionByS(lo.Clamp(t, 0, 1) * s.length).Direction
}

// TrafficLanePosition 车道在进度t处的位置
// 功能：取中心线上进度t处的点与切向，沿右侧法向偏移车道横向距离
// 参数：lane-车道号，t-归一化进度（超出[0,1]时截断）
func (s *Segment) TrafficLanePosition(lane int32, t float64) geometry.Point {
	sPos := lo.Clamp(t, 0, 1) * s.length
	base := s.positionByS(sPos)
	normal := geoutil.RightNormal(s.directionByS(sPos).Direction)
	return geoutil.Add(base, geoutil.Scale(normal, s.LaneOffset(lane)))
}

// LanePoints 车道中心线折线（供渲染使用）
func (s *Segment) LanePoints(lane int32) []geometry.Point {
	return lo.Map(s.lineLengths, func(sPos float64, _ int) geometry.Point {
		if s.length <= 0 {
			return s.TrafficLanePosition(lane, 0)
		}
		return s.TrafficLanePosition(lane, sPos/s.length)
	})
}

// ComputeProgressOnSegment 将位置投影到路段上，求归一化进度
// 算法说明：
// 1. 对折线的每一段做截断的标量投影，求最近点与距离
// 2. 记录最近点对应的累积弧长
// 3. 最近距离超过容差（0.75*路宽+5）时返回-1，表示不在该路段上
// 返回：[0,1]内的进度，或-1
func (s *Segment) ComputeProgressOnSegment(pos geometry.Point) float64 {
	best := mathutil.INF
	bestS := 0.
	for i := 0; i+1 < len(s.line); i++ {
		a, b := s.line[i], s.line[i+1]
		ab := geoutil.Sub(b, a)
		l2 := geoutil.Dot2D(ab, ab)
		u := 0.
		if l2 > 0 {
			u = lo.Clamp(geoutil.Dot2D(geoutil.Sub(pos, a), ab)/l2, 0, 1)
		}
		q := geoutil.Add(a, geoutil.Scale(ab, u))
		if d := geoutil.Distance2D(pos, q); d < best {
			best = d
			bestS = s.lineLengths[i] + u*(s.lineLengths[i+1]-s.lineLengths[i])
		}
	}
	if best > projectionWidthFactor*s.Width()+projectionMargin {
		return -1
	}
	if s.length <= 0 {
		return 0
	}
	return lo.Clamp(bestS/s.length, 0, 1)
}

func (s *Segment) String() string {
	return fmt.Sprintf("Segment{id=%d, %d->%d, lanes=%d, len=%.1f}", s.id, s.start.ID(), s.end.ID(), s.lanes, s.length)
}
