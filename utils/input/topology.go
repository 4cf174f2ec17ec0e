package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/network"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"gopkg.in/yaml.v2"
)

// 拓扑文件默认值
const (
	DefaultLanes = 2
)

var (
	ErrDuplicateNode = errors.New("input: duplicated node id")
	ErrUnknownNode   = errors.New("input: route references unknown node")
	ErrBadPosition   = errors.New("input: node position needs at least 2 numbers")
)

// flexBool 兼容布尔值与"true"/"false"字符串
type flexBool bool

func parseFlexBool(s string) flexBool {
	return flexBool(!strings.EqualFold(strings.TrimSpace(s), "false"))
}

func (b *flexBool) UnmarshalYAML(unmarshal func(any) error) error {
	var v bool
	if err := unmarshal(&v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*b = parseFlexBool(s)
	return nil
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = parseFlexBool(s)
	return nil
}

// NodeSpec 拓扑文件中的节点
// 说明：pos为渲染坐标系[x, 高度, z]，地面坐标取(x, z)；position为地面坐标[x, y]
type NodeSpec struct {
	ID       *int32    `json:"id,omitempty" yaml:"id,omitempty"` // 缺省为序号+1
	Pos      []float64 `json:"pos,omitempty" yaml:"pos,omitempty"`
	Position []float64 `json:"position,omitempty" yaml:"position,omitempty"`
	Type     string    `json:"type,omitempty" yaml:"type,omitempty"`
	Radius   float64   `json:"radius,omitempty" yaml:"radius,omitempty"`
}

// Point 节点地面坐标
func (s NodeSpec) Point() (geometry.Point, error) {
	switch {
	case len(s.Pos) >= 3:
		return geometry.Point{X: s.Pos[0], Y: s.Pos[2], Z: s.Pos[1]}, nil
	case len(s.Pos) == 2:
		return geometry.Point{X: s.Pos[0], Y: s.Pos[1]}, nil
	case len(s.Position) >= 2:
		return geometry.Point{X: s.Position[0], Y: s.Position[1]}, nil
	case len(s.Pos) == 0 && len(s.Position) == 0:
		return geometry.Point{}, nil
	}
	return geometry.Point{}, ErrBadPosition
}

// RouteSpec 拓扑文件中的道路
type RouteSpec struct {
	From    int32     `json:"from" yaml:"from"`
	To      int32     `json:"to" yaml:"to"`
	Lanes   int32     `json:"lanes,omitempty" yaml:"lanes,omitempty"`
	Curved  flexBool  `json:"curved,omitempty" yaml:"curved,omitempty"`
	Visible *flexBool `json:"visible,omitempty" yaml:"visible,omitempty"`
	Oneway  flexBool  `json:"oneway,omitempty" yaml:"oneway,omitempty"`
}

// Topology 路网拓扑
type Topology struct {
	Nodes  []NodeSpec  `json:"nodes" yaml:"nodes"`
	Routes []RouteSpec `json:"routes" yaml:"routes"`
}

// TopologyFile 拓扑文件（JSON或YAML）
type TopologyFile struct {
	Topology     Topology                      `json:"topology" yaml:"topology"`
	VehicleTypes map[string]config.VehicleType `json:"vehicle_types,omitempty" yaml:"vehicle_types,omitempty"`
}

// ParseTopology 解析拓扑文件内容
// 参数：data-文件内容，isJSON-是否为JSON格式（否则按YAML解析）
func ParseTopology(data []byte, isJSON bool) (*TopologyFile, error) {
	var t TopologyFile
	var err error
	if isJSON {
		err = json.Unmarshal(data, &t)
	} else {
		err = yaml.Unmarshal(data, &t)
	}
	if err != nil {
		return nil, fmt.Errorf("input: bad topology: %w", err)
	}
	return &t, nil
}

// LoadTopologyFile 读取拓扑文件，按扩展名判断格式（.json为JSON，其余为YAML）
func LoadTopologyFile(path string) (*TopologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	return ParseTopology(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// Build 将拓扑加入路网
// 功能：按文件顺序添加节点，为每个节点登记路口，按道路添加路段
// 参数：n-路网
// 返回：文件节点ID到路网节点的映射
// 算法说明：
// 1. 节点缺省类型为普通路口，缺省半径为5
// 2. 道路缺省车道数为2，缺省可见
// 3. 双向道路（默认）额外添加不可见的反向路段，其正向车道与原路段的反向车道重合
func (t *TopologyFile) Build(n *network.Network) (map[int32]*node.Node, error) {
	nodes := make(map[int32]*node.Node, len(t.Topology.Nodes))
	for i, spec := range t.Topology.Nodes {
		id := int32(i + 1)
		if spec.ID != nil {
			id = *spec.ID
		}
		if _, ok := nodes[id]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, id)
		}
		pos, err := spec.Point()
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		radius := spec.Radius
		if radius <= 0 {
			radius = node.DefaultRadius
		}
		nd := n.AddNode(pos, node.ParseType(spec.Type), radius)
		if _, err := n.AddIntersection(nd); err != nil {
			return nil, err
		}
		nodes[id] = nd
	}
	for _, r := range t.Topology.Routes {
		from, ok := nodes[r.From]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownNode, r.From)
		}
		to, ok := nodes[r.To]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownNode, r.To)
		}
		lanes := r.Lanes
		if lanes == 0 {
			lanes = DefaultLanes
		}
		s, err := n.AddRoadSegment(from, to, lanes, bool(r.Curved))
		if err != nil {
			return nil, fmt.Errorf("route %d->%d: %w", r.From, r.To, err)
		}
		if r.Visible != nil {
			s.SetVisible(bool(*r.Visible))
		}
		if r.Oneway {
			continue
		}
		twin, err := n.AddRoadSegment(to, from, lanes, bool(r.Curved))
		if err != nil {
			return nil, fmt.Errorf("route %d->%d: %w", r.To, r.From, err)
		}
		twin.SetVisible(false)
	}
	log.Infof("topology: %d nodes, %d routes", len(t.Topology.Nodes), len(t.Topology.Routes))
	return nodes, nil
}
