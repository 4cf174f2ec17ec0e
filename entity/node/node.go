package node

import (
	"fmt"
	"math"
	"strings"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

var log = logrus.WithField("module", "node")

// DefaultRadius 节点默认半径
const DefaultRadius = 5.

// Type 节点类型
type Type int32

const (
	SimpleIntersection Type = iota // 普通路口
	Roundabout                     // 环岛
	TrafficLight                   // 信号灯路口
)

func (t Type) String() string {
	switch t {
	case Roundabout:
		return "roundabout"
	case TrafficLight:
		return "traffic_light"
	default:
		return "simple"
	}
}

// ParseType 解析节点类型字符串，无法识别时返回普通路口
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "roundabout":
		return Roundabout
	case "traffic_light", "trafficlight", "light":
		return TrafficLight
	default:
		return SimpleIntersection
	}
}

// Node 路网节点
// 功能：表示一个路口、环岛或信号灯路口，记录位置、半径与相连路段
// 说明：由路网统一创建和持有，拓扑构建完成后只有信号灯状态会变化
type Node struct {
	id       int32
	position geometry.Point
	typ      Type
	radius   float64

	segmentIDs []int32       // 相连路段ID（含驶入与驶出）
	light      *LightControl // 信号灯，仅TrafficLight类型存在
}

// New 创建节点
// 功能：初始化节点，信号灯类型节点同时创建默认配时的信号灯
// 参数：id-节点ID，position-位置，typ-类型，radius-半径（非正数时采用默认值）
func New(id int32, position geometry.Point, typ Type, radius float64) *Node {
	if radius <= 0 {
		radius = DefaultRadius
	}
	n := &Node{
		id:         id,
		position:   position,
		typ:        typ,
		radius:     radius,
		segmentIDs: make([]int32, 0),
	}
	if typ == TrafficLight {
		n.light = NewLightControl(id, DefaultCycle)
	}
	return n
}

func (n *Node) ID() int32 {
	return n.id
}

func (n *Node) Position() geometry.Point {
	return n.position
}

func (n *Node) Type() Type {
	return n.typ
}

func (n *Node) Radius() float64 {
	return n.radius
}

// 是否为环岛（仅按类型判断）
func (n *Node) IsRoundabout() bool {
	return n.typ == Roundabout
}

// 相连路段ID
func (n *Node) ConnectedSegments() []int32 {
	return n.segmentIDs
}

// AddConnectedSegment 记录相连路段
func (n *Node) AddConnectedSegment(segmentID int32) {
	n.segmentIDs = append(n.segmentIDs, segmentID)
}

// Light 信号灯，非信号灯路口返回nil
func (n *Node) Light() *LightControl {
	return n.light
}

// ConnectionTangent 计算道路在节点处的连接切向
// 功能：环岛的切向垂直于半径方向（逆时针行驶方向），其余节点保持原方向
// 参数：direction-从节点指向道路的方向
// 返回：单位切向量
func (n *Node) ConnectionTangent(direction geometry.Point) geometry.Point {
	direction = geoutil.Normalize2D(direction)
	if n.typ == Roundabout {
		h := geoutil.Heading(direction) + math.Pi/2
		return geoutil.Unit(h)
	}
	return direction
}

// Prepare 准备阶段，写入信号灯快照
func (n *Node) Prepare() {
	if n.light != nil {
		n.light.Prepare()
	}
}

// Update 更新阶段，推进信号灯计时
func (n *Node) Update(dt float64) {
	if n.light != nil {
		n.light.Update(dt)
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("Node{id=%d, type=%v, pos=(%.1f,%.1f,%.1f), r=%.1f}",
		n.id, n.typ, n.position.X, n.position.Y, n.position.Z, n.radius)
}
