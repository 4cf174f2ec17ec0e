package emergency

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

var log = logrus.WithField("module", "emergency")

var (
	ErrEmptyNetwork = errors.New("emergency: network has no node")
	ErrNotEmergency = errors.New("emergency: not an emergency vehicle category")
	ErrNoIdleUnit   = errors.New("emergency: no idle unit")
)

// 每个医院停靠的车辆类别
var hospitalFleet = []vehicle.Category{vehicle.Ambulance, vehicle.FireTruck, vehicle.Police}

// Hospital 医院
type Hospital struct {
	Name     string
	Position geometry.Point
	Entry    *node.Node // 距离医院最近的节点
}

// Unit 应急车辆单元
// 说明：空闲时停靠在base节点，不参与交通仿真；出勤时持有路上的车辆
type Unit struct {
	Kind     vehicle.Category
	Hospital string
	base     *node.Node
	mission  *Mission
}

// Base 当前停靠节点
func (u *Unit) Base() *node.Node {
	return u.base
}

// Idle 是否空闲
func (u *Unit) Idle() bool {
	return u.mission == nil
}

// MissionStatus 任务状态
type MissionStatus int32

const (
	MissionPlanning  MissionStatus = iota // 寻路中
	MissionEnRoute                        // 行驶中
	MissionCompleted                      // 已到达
	MissionFailed                         // 不可达
)

func (s MissionStatus) String() string {
	switch s {
	case MissionPlanning:
		return "planning"
	case MissionEnRoute:
		return "en_route"
	case MissionCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// Mission 出勤任务
type Mission struct {
	ID          string
	Kind        vehicle.Category
	Destination *node.Node
	Status      MissionStatus

	unit    *Unit
	vehicle *vehicle.Vehicle
	path    []*node.Node
	waitCh  chan struct{} // 寻路请求等待通道
}

// Vehicle 执行任务的车辆，寻路完成前为nil
func (m *Mission) Vehicle() *vehicle.Vehicle {
	return m.vehicle
}

// Manager 应急车辆管理器
// 功能：管理医院与应急车辆，派遣出勤，预清前方信号灯，要求前方社会车辆让行
type Manager struct {
	ctx entity.ITaskContext

	hospitals []*Hospital
	units     []*Unit
	missions  map[string]*Mission
	active    []*Mission // 寻路中或行驶中的任务，按派遣顺序

	yielded map[int32]bool // 上一步被要求让行的车辆
	mtx     sync.Mutex
}

func NewManager(ctx entity.ITaskContext) *Manager {
	return &Manager{
		ctx:       ctx,
		hospitals: make([]*Hospital, 0),
		units:     make([]*Unit, 0),
		missions:  make(map[string]*Mission),
		active:    make([]*Mission, 0),
		yielded:   make(map[int32]bool),
	}
}

// Init 按配置添加医院
func (m *Manager) Init() error {
	for _, h := range m.ctx.RuntimeConfig().C.Emergency.Hospitals {
		pos := geometry.Point{X: h.Position[0], Y: h.Position[1], Z: h.Position[2]}
		if err := m.AddHospital(h.Name, pos); err != nil {
			return fmt.Errorf("hospital %s: %w", h.Name, err)
		}
	}
	return nil
}

// AddHospital 添加医院
// 功能：医院吸附到最近的节点，并在该节点停靠救护车、消防车、警车各一辆
func (m *Manager) AddHospital(name string, pos geometry.Point) error {
	entry := m.ctx.Network().FindNearestNode(pos)
	if entry == nil {
		return ErrEmptyNetwork
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.hospitals = append(m.hospitals, &Hospital{Name: name, Position: pos, Entry: entry})
	for _, kind := range hospitalFleet {
		m.units = append(m.units, &Unit{Kind: kind, Hospital: name, base: entry})
	}
	log.Infof("hospital %s at node %d", name, entry.ID())
	return nil
}

func (m *Manager) Hospitals() []*Hospital {
	return m.hospitals
}

func (m *Manager) Units() []*Unit {
	return m.units
}

// Mission 根据ID查找任务，不存在时返回nil
func (m *Manager) Mission(id string) *Mission {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.missions[id]
}

// Dispatch 派遣应急车辆
// 功能：选取该类别第一个空闲单元，以距离dest最近的节点为目的地异步寻路，下一次Update时上路
// 参数：kind-应急车辆类别，dest-目的地位置
// 返回：任务ID
func (m *Manager) Dispatch(kind vehicle.Category, dest geometry.Point) (string, error) {
	if !kind.IsEmergency() {
		return "", fmt.Errorf("%w: %v", ErrNotEmergency, kind)
	}
	target := m.ctx.Network().FindNearestNode(dest)
	if target == nil {
		return "", ErrEmptyNetwork
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	unit, ok := lo.Find(m.units, func(u *Unit) bool {
		return u.Kind == kind && u.Idle()
	})
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrNoIdleUnit, kind)
	}
	mission := &Mission{
		ID:          uuid.NewString(),
		Kind:        kind,
		Destination: target,
		Status:      MissionPlanning,
		unit:        unit,
	}
	unit.mission = mission
	mission.waitCh = m.ctx.Router().FindPathAsync(unit.base, target, func(path []*node.Node) {
		mission.path = path
	})
	m.missions[mission.ID] = mission
	m.active = append(m.active, mission)
	log.Infof("dispatch %v from node %d to node %d, mission %s", kind, unit.base.ID(), target.ID(), mission.ID)
	return mission.ID, nil
}

// Update 更新阶段
// 算法说明：
// 1. 等待寻路完成的任务上路，不可达的任务失败并释放单元
// 2. 车辆到达终点的任务完成，单元停靠在目的地
// 3. 行驶中的应急车辆预清前方信号灯
// 4. 前方社会车辆让行
func (m *Manager) Update(dt float64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	active := make([]*Mission, 0, len(m.active))
	for _, mission := range m.active {
		switch mission.Status {
		case MissionPlanning:
			m.launch(mission)
		case MissionEnRoute:
			if mission.vehicle.IsFinished() {
				m.complete(mission)
			}
		}
		if mission.Status == MissionPlanning || mission.Status == MissionEnRoute {
			active = append(active, mission)
		}
	}
	m.active = active

	running := lo.FilterMap(m.active, func(mission *Mission, _ int) (*vehicle.Vehicle, bool) {
		return mission.vehicle, mission.Status == MissionEnRoute
	})
	m.preemptLights(running)
	m.yield(running)
}

// launch 寻路完成后创建车辆并加入交通管理器
func (m *Manager) launch(mission *Mission) {
	<-mission.waitCh
	if len(mission.path) == 1 {
		// 已在目的地
		m.complete(mission)
		return
	}
	route := m.ctx.Network().RouteFromPath(mission.path)
	if len(route) == 0 {
		log.Warnf("mission %s: no route from node %d to node %d", mission.ID, mission.unit.base.ID(), mission.Destination.ID())
		mission.Status = MissionFailed
		mission.unit.mission = nil
		return
	}
	tm := m.ctx.TrafficManager()
	// 应急车辆使用最左侧车道
	lane := route[0].ForwardLanes() - 1
	v := tm.Factory().Create(mission.Kind, route[0].TrafficLanePosition(lane, 0))
	if err := v.SetRoute(route); err != nil {
		log.Panicf("mission %s: %v", mission.ID, err)
	}
	v.ChangeLane(lane)
	tm.AddVehicle(v)
	mission.vehicle = v
	mission.Status = MissionEnRoute
}

func (m *Manager) complete(mission *Mission) {
	mission.Status = MissionCompleted
	mission.unit.base = mission.Destination
	mission.unit.mission = nil
	log.Infof("mission %s completed, %v parks at node %d", mission.ID, mission.Kind, mission.Destination.ID())
}

// 目标是否位于车辆前方
func inFront(v *vehicle.Vehicle, target geometry.Point) (float64, bool) {
	to := geoutil.Sub(target, v.Position())
	d := geoutil.Len2D(to)
	if d < 1e-6 {
		return d, true
	}
	return d, geoutil.Dot2D(geoutil.Unit(v.Heading()), geoutil.Scale(to, 1/d)) > 0
}

// preemptLights 前方一定距离内的信号灯强制绿灯
// 说明：救护车、消防车使用light_range，警车使用police_range
func (m *Manager) preemptLights(running []*vehicle.Vehicle) {
	cfg := m.ctx.RuntimeConfig().C.Emergency
	for _, v := range running {
		r := cfg.LightRange
		if v.Category() == vehicle.Police {
			r = cfg.PoliceRange
		}
		for _, nd := range m.ctx.Network().Nodes() {
			light := nd.Light()
			if light == nil {
				continue
			}
			if d, ok := inFront(v, nd.Position()); ok && d < r {
				light.SetEmergencyOverride(cfg.OverrideTime)
			}
		}
	}
}

// yield 让行
// 功能：位于任一行驶中应急车辆前方yield_range内的社会车辆让行，距离小于yield_stop_range时停车；
// 不再满足条件的车辆恢复正常行驶
func (m *Manager) yield(running []*vehicle.Vehicle) {
	cfg := m.ctx.RuntimeConfig().C.Emergency
	tm := m.ctx.TrafficManager()
	for id := range m.yielded {
		if v := tm.Get(id); v != nil {
			v.SetYield(false, false)
		}
	}
	clear(m.yielded)
	if len(running) == 0 {
		return
	}
	for _, v := range tm.Vehicles() {
		if v.Category().IsEmergency() || v.IsFinished() {
			continue
		}
		closest := math.Inf(1)
		for _, ev := range running {
			if d, ok := inFront(ev, v.Position()); ok && d < cfg.YieldRange {
				closest = min(closest, d)
			}
		}
		if math.IsInf(closest, 1) {
			continue
		}
		v.SetYield(true, closest < cfg.YieldStopRange)
		m.yielded[v.ID()] = true
	}
}
