package vehicle

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
)

// Category 车辆类别
type Category int32

const (
	Car Category = iota
	Bus
	Truck
	Ambulance
	FireTruck
	Police
)

var categoryNames = map[Category]string{
	Car:       "CAR",
	Bus:       "BUS",
	Truck:     "TRUCK",
	Ambulance: "AMBULANCE",
	FireTruck: "FIRE_TRUCK",
	Police:    "POLICE",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Category(%d)", int32(c))
}

// IsEmergency 是否为应急车辆
func (c Category) IsEmergency() bool {
	return c == Ambulance || c == FireTruck || c == Police
}

// ParseCategory 解析车辆类别名（大小写不敏感）
func ParseCategory(s string) (Category, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for c, name := range categoryNames {
		if name == s {
			return c, nil
		}
	}
	return Car, fmt.Errorf("unknown vehicle category %q", s)
}

// Color 渲染颜色
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ParseColor 解析#RRGGBB格式的颜色
func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Color{}, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Color{}, fmt.Errorf("bad color %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Params 车辆类别参数
// 说明：不同类别的行为差异全部由参数表达，状态机逻辑相同
type Params struct {
	Category     Category
	MaxSpeed     float64 // 最高速度
	Acceleration float64 // 加速度
	Length       float64 // 车长
	Large        bool    // 大型车辆
	StopEvery    float64 // 停站间隔（秒），0表示不停站
	StopDwell    float64 // 每次停站时长（秒）
	Color        Color
	Model        string // 渲染资源句柄，由ModelResolver决定
}

// DefaultParams 各类别的默认参数
func DefaultParams() map[Category]Params {
	return map[Category]Params{
		Car:       {Category: Car, MaxSpeed: 13.9, Acceleration: 2.5, Length: 4.5, Color: Color{R: 0x33, G: 0x66, B: 0xCC}},
		Bus:       {Category: Bus, MaxSpeed: 11.1, Acceleration: 1.5, Length: 12, Large: true, StopEvery: 12, StopDwell: 4, Color: Color{R: 0xFF, G: 0xCC, B: 0x00}},
		Truck:     {Category: Truck, MaxSpeed: 8.3, Acceleration: 1.0, Length: 10, Large: true, Color: Color{R: 0x80, G: 0x80, B: 0x80}},
		Ambulance: {Category: Ambulance, MaxSpeed: 38.9, Acceleration: 10, Length: 6, Color: Color{R: 0xFF, G: 0xFF, B: 0xFF}},
		FireTruck: {Category: FireTruck, MaxSpeed: 38.9, Acceleration: 10, Length: 10, Large: true, Color: Color{R: 0xCC, G: 0x00, B: 0x00}},
		Police:    {Category: Police, MaxSpeed: 38.9, Acceleration: 10, Length: 5, Color: Color{R: 0x00, G: 0x00, B: 0x80}},
	}
}

// ParamsFromConfig 以配置文件中的车辆类别覆盖默认参数
// 说明：未识别的类别名返回错误，未填写的字段保留默认值
func ParamsFromConfig(types map[string]config.VehicleType) (map[Category]Params, error) {
	params := DefaultParams()
	for name, vt := range types {
		c, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		p := params[c]
		if vt.MaxSpeed > 0 {
			p.MaxSpeed = vt.MaxSpeed
		}
		if vt.Acceleration > 0 {
			p.Acceleration = vt.Acceleration
		}
		if vt.Length > 0 {
			p.Length = vt.Length
		}
		if vt.Color != "" {
			color, err := ParseColor(vt.Color)
			if err != nil {
				return nil, fmt.Errorf("vehicle type %s: %w", name, err)
			}
			p.Color = color
		}
		if vt.Model != "" {
			p.Model = vt.Model
		}
		params[c] = p
	}
	return params, nil
}

// ModelResolver 车辆类别到渲染资源句柄的映射能力
type ModelResolver interface {
	Resolve(c Category) string
}

// ModelResolverFunc 函数形式的ModelResolver
type ModelResolverFunc func(c Category) string

func (f ModelResolverFunc) Resolve(c Category) string {
	return f(c)
}

// StaticModels 固定表形式的ModelResolver
type StaticModels map[Category]string

func (m StaticModels) Resolve(c Category) string {
	return m[c]
}

// Factory 车辆工厂
// 功能：按类别参数创建车辆并分配ID，渲染资源句柄由注入的ModelResolver决定
type Factory struct {
	params   map[Category]Params
	resolver ModelResolver
	traffic  config.Traffic

	nextID int32
	mtx    sync.Mutex
}

// NewFactory 创建车辆工厂
// 参数：params-类别参数（缺少的类别使用默认值），resolver-渲染资源映射（可为nil）
func NewFactory(params map[Category]Params, resolver ModelResolver) *Factory {
	merged := DefaultParams()
	for c, p := range params {
		p.Category = c
		merged[c] = p
	}
	traffic := config.Traffic{}
	traffic.Normalize()
	return &Factory{
		params:   merged,
		resolver: resolver,
		traffic:  traffic,
		nextID:   1,
	}
}

// SetTraffic 设置车辆使用的交通协调参数（需已填充默认值）
func (f *Factory) SetTraffic(traffic config.Traffic) {
	f.traffic = traffic
}

// Params 类别参数
func (f *Factory) Params(c Category) Params {
	return f.params[c]
}

// Categories 工厂支持的全部类别（升序）
func (f *Factory) Categories() []Category {
	cs := lo.Keys(f.params)
	slices.Sort(cs)
	return cs
}

// Create 在指定位置创建车辆，车辆在设置路线前不会移动
func (f *Factory) Create(c Category, pos geometry.Point) *Vehicle {
	p, ok := f.params[c]
	if !ok {
		log.Warnf("unknown vehicle category %v, use CAR", c)
		p = f.params[Car]
	}
	if f.resolver != nil {
		if model := f.resolver.Resolve(p.Category); model != "" {
			p.Model = model
		}
	}
	f.mtx.Lock()
	id := f.nextID
	f.nextID++
	f.mtx.Unlock()
	return newVehicle(id, p, pos, &f.traffic)
}
