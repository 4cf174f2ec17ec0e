package network

import (
	"errors"
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"git.fiblab.net/general/common/v2/parallel"
	mapv2connect "git.fiblab.net/sim/protos/v2/go/city/map/v2/mapv2connect"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/intersection"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/segment"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

var log = logrus.WithField("module", "network")

var (
	ErrNilNode      = errors.New("network: nil node")
	ErrForeignNode  = errors.New("network: node does not belong to this network")
	ErrBadLaneCount = errors.New("network: lane count must be positive")
	ErrSelfLoop     = errors.New("network: segment start and end are the same node")
)

// 有向节点对
type nodePair struct {
	from, to int32
}

// Network 路网
// 功能：持有全部节点、路段与路口，维护出边邻接表与节点对索引，提供路径到路段序列的转换
// 说明：节点与路段ID稠密且从1开始；拓扑构建完成后只有信号灯状态与路段可见性会变化
type Network struct {
	mapv2connect.UnimplementedTrafficLightServiceHandler

	nodes    []*node.Node
	nodeMap  map[int32]*node.Node
	segments []*segment.Segment
	segMap   map[int32]*segment.Segment

	intersections   []*intersection.Intersection
	intersectionMap map[int32]*intersection.Intersection

	outgoing map[int32][]*segment.Segment // 节点ID -> 出边（按插入顺序）
	between  map[nodePair]*segment.Segment

	nextNodeID    int32
	nextSegmentID int32
	laneWidth     float64
}

// New 创建空路网
// 参数：laneWidth-车道宽度，非正数时采用默认值
func New(laneWidth float64) *Network {
	if laneWidth <= 0 {
		laneWidth = segment.DefaultLaneWidth
	}
	n := &Network{laneWidth: laneWidth}
	n.reset()
	return n
}

func (n *Network) reset() {
	n.nodes = make([]*node.Node, 0)
	n.nodeMap = make(map[int32]*node.Node)
	n.segments = make([]*segment.Segment, 0)
	n.segMap = make(map[int32]*segment.Segment)
	n.intersections = make([]*intersection.Intersection, 0)
	n.intersectionMap = make(map[int32]*intersection.Intersection)
	n.outgoing = make(map[int32][]*segment.Segment)
	n.between = make(map[nodePair]*segment.Segment)
	n.nextNodeID = 1
	n.nextSegmentID = 1
}

// AddNode 添加节点，ID按顺序分配
func (n *Network) AddNode(position geometry.Point, typ node.Type, radius float64) *node.Node {
	nd := node.New(n.nextNodeID, position, typ, radius)
	n.nextNodeID++
	n.nodes = append(n.nodes, nd)
	n.nodeMap[nd.ID()] = nd
	return nd
}

// 检查节点属于本路网
func (n *Network) owns(nd *node.Node) error {
	if nd == nil {
		return ErrNilNode
	}
	if owned, ok := n.nodeMap[nd.ID()]; !ok || owned != nd {
		return fmt.Errorf("%w: node %d", ErrForeignNode, nd.ID())
	}
	return nil
}

// AddRoadSegment 添加有向路段
// 功能：校验端点与车道数后创建路段，登记到两端节点、出边邻接表与节点对索引
// 参数：start/end-起止节点（必须属于本路网），lanes-车道数，curved-是否请求曲线几何
// 返回：新路段；参数非法时返回nil与错误，不创建路段
// 说明：同一有向节点对重复添加时，节点对索引保留先添加的路段
func (n *Network) AddRoadSegment(start, end *node.Node, lanes int32, curved bool) (*segment.Segment, error) {
	if err := n.owns(start); err != nil {
		return nil, err
	}
	if err := n.owns(end); err != nil {
		return nil, err
	}
	if start == end {
		return nil, fmt.Errorf("%w: node %d", ErrSelfLoop, start.ID())
	}
	if lanes <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrBadLaneCount, lanes)
	}
	s := segment.New(n.nextSegmentID, start, end, lanes, curved, n.laneWidth)
	n.nextSegmentID++
	n.segments = append(n.segments, s)
	n.segMap[s.ID()] = s
	n.outgoing[start.ID()] = append(n.outgoing[start.ID()], s)
	key := nodePair{start.ID(), end.ID()}
	if _, ok := n.between[key]; !ok {
		n.between[key] = s
	} else {
		log.Debugf("duplicate segment %d->%d, keep the first one", start.ID(), end.ID())
	}
	start.AddConnectedSegment(s.ID())
	end.AddConnectedSegment(s.ID())
	return s, nil
}

// AddIntersection 为节点创建路口占用记录，重复调用返回已有记录
func (n *Network) AddIntersection(nd *node.Node) (*intersection.Intersection, error) {
	if err := n.owns(nd); err != nil {
		return nil, err
	}
	if i, ok := n.intersectionMap[nd.ID()]; ok {
		return i, nil
	}
	i := intersection.New(nd)
	n.intersections = append(n.intersections, i)
	n.intersectionMap[nd.ID()] = i
	return i, nil
}

func (n *Network) Nodes() []*node.Node {
	return n.nodes
}

func (n *Network) Segments() []*segment.Segment {
	return n.segments
}

func (n *Network) Intersections() []*intersection.Intersection {
	return n.intersections
}

// FindNodeByID 查找节点，不存在时返回nil
func (n *Network) FindNodeByID(id int32) *node.Node {
	return n.nodeMap[id]
}

// GetNodeOrError 查找节点，不存在时返回错误
func (n *Network) GetNodeOrError(id int32) (*node.Node, error) {
	if nd, ok := n.nodeMap[id]; !ok {
		return nil, fmt.Errorf("no id %d in node data", id)
	} else {
		return nd, nil
	}
}

// GetSegment 查找路段，不存在时返回nil
func (n *Network) GetSegment(id int32) *segment.Segment {
	return n.segMap[id]
}

// Intersection 节点对应的路口记录，未登记时返回nil
func (n *Network) Intersection(nodeID int32) *intersection.Intersection {
	return n.intersectionMap[nodeID]
}

// FindNearestNode 查找距离位置最近的节点（平面距离），空路网返回nil
func (n *Network) FindNearestNode(pos geometry.Point) *node.Node {
	if len(n.nodes) == 0 {
		return nil
	}
	return lo.MinBy(n.nodes, func(a, b *node.Node) bool {
		return geoutil.Distance2D(a.Position(), pos) < geoutil.Distance2D(b.Position(), pos)
	})
}

// Outgoing 节点的出边，按添加顺序排列
func (n *Network) Outgoing(nodeID int32) []*segment.Segment {
	return n.outgoing[nodeID]
}

// SegmentBetween 查找from->to方向的路段，不存在时返回nil
func (n *Network) SegmentBetween(from, to int32) *segment.Segment {
	return n.between[nodePair{from, to}]
}

// RouteFromPath 将节点路径转换为路段序列
// 功能：对相邻节点对按方向查找路段（start==u && end==v），找不到的一跳直接丢弃
// 参数：path-节点路径
// 返回：路段序列，可能为空
func (n *Network) RouteFromPath(path []*node.Node) []*segment.Segment {
	route := make([]*segment.Segment, 0, max(len(path)-1, 0))
	for i := 0; i+1 < len(path); i++ {
		u, v := path[i], path[i+1]
		if u == nil || v == nil {
			continue
		}
		if s := n.SegmentBetween(u.ID(), v.ID()); s != nil {
			route = append(route, s)
		} else {
			log.Debugf("no segment from node %d to node %d, hop dropped", u.ID(), v.ID())
		}
	}
	return route
}

// TotalRoadLength 可见路段的总长度（隐藏的反向路段不重复计入）
func (n *Network) TotalRoadLength() float64 {
	return lo.SumBy(n.segments, func(s *segment.Segment) float64 {
		if !s.Visible() {
			return 0
		}
		return s.Length()
	})
}

// Clear 清空路网，ID重新从1开始分配
func (n *Network) Clear() {
	n.reset()
}

// Summary 路网统计信息
type Summary struct {
	Nodes         int
	Roundabouts   int
	TrafficLights int
	Segments      int
	Intersections int
	TotalLength   float64
	MinX, MinY    float64
	MaxX, MaxY    float64
}

func (s Summary) String() string {
	return fmt.Sprintf("nodes=%d (roundabout=%d, traffic_light=%d), segments=%d, intersections=%d, length=%.1f, bbox=[(%.1f,%.1f),(%.1f,%.1f)]",
		s.Nodes, s.Roundabouts, s.TrafficLights, s.Segments, s.Intersections, s.TotalLength, s.MinX, s.MinY, s.MaxX, s.MaxY)
}

// Summary 统计路网规模与范围
func (n *Network) Summary() Summary {
	s := Summary{
		Nodes:         len(n.nodes),
		Segments:      len(n.segments),
		Intersections: len(n.intersections),
		TotalLength:   n.TotalRoadLength(),
		MinX:          mathutil.INF,
		MinY:          mathutil.INF,
		MaxX:          -mathutil.INF,
		MaxY:          -mathutil.INF,
	}
	for _, nd := range n.nodes {
		switch nd.Type() {
		case node.Roundabout:
			s.Roundabouts++
		case node.TrafficLight:
			s.TrafficLights++
		}
		p := nd.Position()
		s.MinX, s.MinY = min(s.MinX, p.X), min(s.MinY, p.Y)
		s.MaxX, s.MaxY = max(s.MaxX, p.X), max(s.MaxY, p.Y)
	}
	if len(n.nodes) == 0 {
		s.MinX, s.MinY, s.MaxX, s.MaxY = 0, 0, 0, 0
	}
	return s
}

// PrintNetworkInfo 输出路网统计信息到日志
func (n *Network) PrintNetworkInfo() {
	log.Infof("road network: %v", n.Summary())
}

// Prepare 准备阶段，写入所有信号灯快照
func (n *Network) Prepare() {
	parallel.GoFor(n.nodes, func(nd *node.Node) { nd.Prepare() })
}

// Update 更新阶段，推进所有信号灯
func (n *Network) Update(dt float64) {
	parallel.GoFor(n.nodes, func(nd *node.Node) { nd.Update(dt) })
}
