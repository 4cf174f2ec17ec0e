package traffic

import (
	"errors"
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/geoutil"
)

var (
	ErrUnknownNode    = errors.New("traffic: unknown node")
	ErrNotFluxNode    = errors.New("traffic: node is not a flux node")
	ErrUnreachable    = errors.New("traffic: no path between nodes")
	ErrEmptyRoute     = errors.New("traffic: route is empty after segment lookup")
	ErrSpawnQueueFull = errors.New("traffic: spawn queue is full")
)

// 生成请求
type spawnRequest struct {
	start, end int32
	category   vehicle.Category
}

// spawner 生成冷却与等待队列
type spawner struct {
	cfg       config.Spawn
	flux      map[int32]bool    // 允许生成/消失的节点，为空表示不限制
	cooldowns map[int32]float64 // 起点节点剩余冷却时间
	pending   []spawnRequest    // 等待队列（FIFO）
}

func newSpawner(cfg config.Spawn) spawner {
	return spawner{
		cfg:       cfg,
		flux:      lo.SliceToMap(cfg.FluxNodes, func(id int32) (int32, bool) { return id, true }),
		cooldowns: make(map[int32]float64),
		pending:   make([]spawnRequest, 0),
	}
}

// 是否为允许的生成节点
func (s *spawner) isFlux(id int32) bool {
	return len(s.flux) == 0 || s.flux[id]
}

// PendingSpawns 等待队列长度
func (m *TrafficManager) PendingSpawns() int {
	return len(m.spawner.pending)
}

// SpawnVehicleByNodeIDs 在起点节点生成前往终点节点的车辆
// 功能：校验节点，规划路径，冷却中或生成点被占用时进入等待队列
// 参数：startID/endID-起止节点ID，c-车辆类别
// 返回：
//   - SpawnSpawned：已生成，下一次Prepare时加入
//   - SpawnQueued：已排队，冷却结束且生成点空闲后自动重试
//   - SpawnRejected与错误：节点未知或不在允许列表、不可达、路线为空、等待队列已满
func (m *TrafficManager) SpawnVehicleByNodeIDs(startID, endID int32, c vehicle.Category) (entity.SpawnStatus, error) {
	for _, id := range []int32{startID, endID} {
		if m.ctx.Network().FindNodeByID(id) == nil {
			return entity.SpawnRejected, fmt.Errorf("%w: %d", ErrUnknownNode, id)
		}
		if !m.spawner.isFlux(id) {
			return entity.SpawnRejected, fmt.Errorf("%w: %d", ErrNotFluxNode, id)
		}
	}
	return m.trySpawn(spawnRequest{start: startID, end: endID, category: c})
}

// trySpawn 尝试生成
// 算法说明：
// 1. 规划节点路径并转换为路段序列，不可达或为空时放弃（软错误）
// 2. 起点冷却中或生成点附近有车辆时排队
// 3. 创建车辆，设置路线，启动起点冷却
func (m *TrafficManager) trySpawn(req spawnRequest) (entity.SpawnStatus, error) {
	network := m.ctx.Network()
	start, end := network.FindNodeByID(req.start), network.FindNodeByID(req.end)
	path := m.ctx.Router().FindPath(start, end)
	if len(path) == 0 {
		log.Warnf("spawn %d->%d: no path", req.start, req.end)
		return entity.SpawnRejected, fmt.Errorf("%w: %d->%d", ErrUnreachable, req.start, req.end)
	}
	route := network.RouteFromPath(path)
	if len(route) == 0 {
		log.Warnf("spawn %d->%d: empty route", req.start, req.end)
		return entity.SpawnRejected, fmt.Errorf("%w: %d->%d", ErrEmptyRoute, req.start, req.end)
	}
	if m.spawner.cooldowns[req.start] > 0 {
		return m.enqueue(req)
	}
	pos := route[0].TrafficLanePosition(0, 0)
	if m.occupied(pos) {
		return m.enqueue(req)
	}
	v := m.factory.Create(req.category, pos)
	if err := v.SetRoute(route); err != nil {
		return entity.SpawnRejected, err
	}
	m.AddVehicle(v)
	m.spawner.cooldowns[req.start] = m.spawner.cfg.Cooldown
	m.runtime.NumSpawned++
	log.Debugf("spawn vehicle %d (%v) %d->%d, %d segments", v.ID(), req.category, req.start, req.end, len(route))
	return entity.SpawnSpawned, nil
}

// 加入等待队列
func (m *TrafficManager) enqueue(req spawnRequest) (entity.SpawnStatus, error) {
	if len(m.spawner.pending) >= m.spawner.cfg.MaxPendingSpawns {
		return entity.SpawnRejected, fmt.Errorf("%w: %d requests", ErrSpawnQueueFull, len(m.spawner.pending))
	}
	m.spawner.pending = append(m.spawner.pending, req)
	return entity.SpawnQueued, nil
}

// 生成点附近是否有车辆（含待加入的车辆）
func (m *TrafficManager) occupied(pos geometry.Point) bool {
	clearance := m.spawner.cfg.Clearance
	for _, v := range m.allVehicles() {
		if !v.IsFinished() && geoutil.Distance2D(v.Position(), pos) < clearance {
			return true
		}
	}
	return false
}

// updateSpawns 冷却计时与等待队列重试
// 说明：按FIFO顺序重试，冷却中的请求保持原顺序留在队列中
func (m *TrafficManager) updateSpawns(dt float64) {
	for id, remaining := range m.spawner.cooldowns {
		if remaining -= dt; remaining <= 0 {
			delete(m.spawner.cooldowns, id)
		} else {
			m.spawner.cooldowns[id] = remaining
		}
	}
	pending := m.spawner.pending
	m.spawner.pending = make([]spawnRequest, 0, len(pending))
	for _, req := range pending {
		if m.spawner.cooldowns[req.start] > 0 {
			m.spawner.pending = append(m.spawner.pending, req)
			continue
		}
		if _, err := m.trySpawn(req); err != nil {
			log.Warnf("retry spawn %d->%d failed: %v", req.start, req.end, err)
		}
	}
	m.updateDemand(dt)
}
