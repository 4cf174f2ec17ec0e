package traffic

import (
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/intersection"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/container"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/randengine"
)

var log = logrus.WithField("module", "traffic")

// GlobalRuntime 全局统计
type GlobalRuntime struct {
	NumSpawned  int32   // 已生成车辆数
	NumFinished int32   // 已到达终点车辆数
	TravelTime  float64 // 车辆总行驶时间
}

// TrafficManager 交通管理器
// 功能：持有全部车辆，每步完成前车分配、换道、路口占用登记、车辆更新与移除，并负责按节点生成车辆
// 说明：车辆列表使用增量数组，新增与移除在Prepare阶段统一生效
type TrafficManager struct {
	ctx     entity.ITaskContext
	factory *vehicle.Factory
	rng     *randengine.Engine

	data     map[int32]*vehicle.Vehicle
	vehicles *container.IncrementalArray[*vehicle.Vehicle]

	inserted      []*vehicle.Vehicle // 新加入的车辆
	insertedMutex sync.Mutex

	leaders     map[int32]int32 // 车辆ID -> 前车ID，每步重建
	prevWaiting map[int32]bool  // 上一步的等待标记

	spawner spawner
	demand  demand

	snapshot, runtime GlobalRuntime
}

// NewManager 创建交通管理器
// 参数：ctx-任务上下文，factory-车辆工厂
func NewManager(ctx entity.ITaskContext, factory *vehicle.Factory) *TrafficManager {
	c := ctx.RuntimeConfig().C
	factory.SetTraffic(c.Traffic)
	m := &TrafficManager{
		ctx:         ctx,
		factory:     factory,
		rng:         randengine.New(c.Traffic.Seed),
		data:        make(map[int32]*vehicle.Vehicle),
		vehicles:    container.NewIncrementalArray[*vehicle.Vehicle](),
		inserted:    make([]*vehicle.Vehicle, 0),
		leaders:     make(map[int32]int32),
		prevWaiting: make(map[int32]bool),
	}
	m.spawner = newSpawner(c.Spawn)
	m.demand = newDemand(c.Spawn)
	return m
}

// 交通协调参数
func (m *TrafficManager) traffic() config.Traffic {
	return m.ctx.RuntimeConfig().C.Traffic
}

func (m *TrafficManager) Factory() *vehicle.Factory {
	return m.factory
}

// Get 根据ID获取车辆，不存在时返回nil
func (m *TrafficManager) Get(id int32) *vehicle.Vehicle {
	return m.data[id]
}

// Vehicles 当前所有车辆（只读）
func (m *TrafficManager) Vehicles() []*vehicle.Vehicle {
	return m.vehicles.Data()
}

// LeaderOf 车辆本步的前车ID
func (m *TrafficManager) LeaderOf(id int32) (int32, bool) {
	leader, ok := m.leaders[id]
	return leader, ok
}

// Stats 统计快照
func (m *TrafficManager) Stats() GlobalRuntime {
	return m.snapshot
}

// AddVehicle 加入已设置路线的车辆，下一次Prepare时生效
func (m *TrafficManager) AddVehicle(v *vehicle.Vehicle) {
	m.insertedMutex.Lock()
	defer m.insertedMutex.Unlock()
	m.inserted = append(m.inserted, v)
}

// 当前车辆与待加入车辆
func (m *TrafficManager) allVehicles() []*vehicle.Vehicle {
	m.insertedMutex.Lock()
	defer m.insertedMutex.Unlock()
	return append(append(make([]*vehicle.Vehicle, 0, m.vehicles.Len()+len(m.inserted)), m.vehicles.Data()...), m.inserted...)
}

// Prepare 准备阶段：新车辆加入，增量数组生效，写入统计快照
func (m *TrafficManager) Prepare() {
	m.insertedMutex.Lock()
	for _, v := range m.inserted {
		if _, ok := m.data[v.ID()]; ok {
			log.Panicf("vehicle %d already exists", v.ID())
		}
		m.data[v.ID()] = v
		m.vehicles.Add(v)
	}
	m.inserted = []*vehicle.Vehicle{}
	m.insertedMutex.Unlock()
	m.vehicles.Prepare()
	m.snapshot = m.runtime
}

// Update 更新阶段
// 算法说明：
// 0. 生成冷却计时，重试等待队列，执行周期性生成
// 1. 记录上一步的等待标记，清除前车与等待标记
// 2. 按路段分配前车，没有同车道前车的车辆做邻近扫描
// 3. 按上一步等待情况做换道
// 4. 按路口并行登记占用
// 5. 以统一的前车视图更新全部车辆
// 6. 移除到达终点的车辆并注销路口占用
func (m *TrafficManager) Update(dt float64) {
	m.updateSpawns(dt)

	vs := lo.Filter(m.vehicles.Data(), func(v *vehicle.Vehicle, _ int) bool {
		return !v.IsFinished()
	})

	clear(m.prevWaiting)
	for _, v := range vs {
		m.prevWaiting[v.ID()] = v.IsWaiting()
		v.ResetWaiting()
	}
	clear(m.leaders)

	groups := groupBySegment(vs)
	m.assignLeaders(vs, groups)
	m.changeLanes(groups)
	m.admit(vs)

	views := make(map[int32]vehicle.LeaderView, len(m.leaders))
	for follower, leader := range m.leaders {
		views[follower] = m.data[leader].View()
	}
	for _, v := range vs {
		if view, ok := views[v.ID()]; ok {
			v.Update(dt, &view)
		} else {
			v.Update(dt, nil)
		}
		m.runtime.TravelTime += dt
	}

	m.removeFinished()
}

// admit 路口占用登记
// 说明：每个路口只写自身的占用集合，按路口并行
func (m *TrafficManager) admit(vs []*vehicle.Vehicle) {
	t := m.traffic()
	parallel.GoFor(m.ctx.Network().Intersections(), func(i *intersection.Intersection) {
		for _, v := range vs {
			i.Observe(v.ID(), v.Position(), v.Heading(), t.ApproachMargin, t.ExitMargin)
		}
	})
}

// removeFinished 移除标记为待移除的车辆
func (m *TrafficManager) removeFinished() {
	intersections := m.ctx.Network().Intersections()
	for _, v := range m.vehicles.Data() {
		if !v.ReadyToRemove() {
			continue
		}
		if _, ok := m.data[v.ID()]; !ok {
			// 已在本步之前移除，等待Prepare生效
			continue
		}
		for _, i := range intersections {
			i.Release(v.ID())
		}
		delete(m.data, v.ID())
		delete(m.leaders, v.ID())
		m.vehicles.Remove(v)
		if v.IsFinished() {
			m.runtime.NumFinished++
		}
		log.Debugf("vehicle %d removed", v.ID())
	}
}
