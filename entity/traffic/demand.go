package traffic

import (
	"errors"
	"slices"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
)

var ErrNoEntries = errors.New("traffic: round robin demand needs at least 2 entry nodes")

// demand 轮询生成需求
type demand struct {
	entries    []int32
	categories []vehicle.Category
	weights    []float64

	schedule []spawnRequest // 待发出的生成请求
	cursor   int            // 下一个起点在entries中的位置

	interval  float64 // 周期性生成间隔
	timer     float64
	remaining int // 周期性生成剩余数量
}

func newDemand(cfg config.Spawn) demand {
	d := demand{
		entries:   slices.Clone(cfg.EntryNodes),
		schedule:  make([]spawnRequest, 0),
		interval:  cfg.Interval,
		remaining: cfg.Total,
	}
	if len(d.entries) == 0 {
		d.entries = slices.Clone(cfg.FluxNodes)
	}
	weights := make(map[vehicle.Category]float64)
	for name, w := range cfg.Weights {
		c, err := vehicle.ParseCategory(name)
		if err != nil || w <= 0 {
			log.Warnf("ignore spawn weight %s=%v", name, w)
			continue
		}
		weights[c] += w
	}
	if len(weights) == 0 {
		weights[vehicle.Car] = 1
	}
	d.categories = lo.Keys(weights)
	slices.Sort(d.categories)
	d.weights = lo.Map(d.categories, func(c vehicle.Category, _ int) float64 { return weights[c] })
	return d
}

// ScheduleRoundRobin 安排n个轮询生成请求
// 功能：起点依次轮换入口节点，终点从其他入口中随机选取，类别按权重抽样
// 说明：未配置入口节点时使用路网全部节点
func (m *TrafficManager) ScheduleRoundRobin(n int) error {
	d := &m.demand
	entries := d.entries
	if len(entries) == 0 {
		entries = lo.Map(m.ctx.Network().Nodes(), func(nd *node.Node, _ int) int32 { return nd.ID() })
	}
	if len(entries) < 2 {
		return ErrNoEntries
	}
	for range n {
		i := d.cursor % len(entries)
		d.cursor++
		j := (i + 1 + m.rng.Intn(len(entries)-1)) % len(entries)
		c := d.categories[m.rng.DiscreteDistribution(d.weights)]
		d.schedule = append(d.schedule, spawnRequest{start: entries[i], end: entries[j], category: c})
	}
	return nil
}

// ScheduledSpawns 待发出的轮询请求数
func (m *TrafficManager) ScheduledSpawns() int {
	return len(m.demand.schedule)
}

// SpawnNext 发出下一个轮询请求，没有待发请求时返回false
func (m *TrafficManager) SpawnNext() bool {
	d := &m.demand
	if len(d.schedule) == 0 {
		return false
	}
	req := d.schedule[0]
	d.schedule = d.schedule[1:]
	if status, err := m.SpawnVehicleByNodeIDs(req.start, req.end, req.category); err != nil {
		log.Warnf("round robin spawn %d->%d: %v", req.start, req.end, err)
	} else {
		log.Debugf("round robin spawn %d->%d: %v", req.start, req.end, status)
	}
	return true
}

// updateDemand 周期性生成：每个间隔安排并发出一个轮询请求，直到达到总数
func (m *TrafficManager) updateDemand(dt float64) {
	d := &m.demand
	if d.interval <= 0 || d.remaining <= 0 {
		return
	}
	d.timer += dt
	for d.timer >= d.interval && d.remaining > 0 {
		d.timer -= d.interval
		if err := m.ScheduleRoundRobin(1); err != nil {
			log.Warnf("periodic demand disabled: %v", err)
			d.remaining = 0
			return
		}
		d.remaining--
		m.SpawnNext()
	}
}
