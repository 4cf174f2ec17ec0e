package task

import (
	"fmt"
	"sync"
	"sync/atomic"

	"git.fiblab.net/sim/syncer/v3"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/roadnet-sim/clock"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/emergency"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/network"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/route"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/traffic"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/roadnet-sim/transport/websocket"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/input"
)

var log = logrus.WithField("module", "task")

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态
// 说明：实现entity.ITaskContext，各管理器通过它互相访问
type Context struct {

	// 任务名
	job string
	// 关闭指令
	closed    atomic.Bool
	closeOnce sync.Once

	// 时钟
	clock *clock.Clock

	// 辅助程序，处理与syncer、其他服务的交互，为nil时不提供RPC
	sidecar *syncer.Sidecar
	// sidecar close channel
	sidecarCloseCh chan struct{}
	// 缓存文件夹
	cacheDir string

	// 路网
	network *network.Network
	// 寻路
	router *route.PathFinder
	// 交通管理器
	trafficManager *traffic.TrafficManager
	// 应急车辆管理器
	emergencyManager *emergency.Manager

	// 运行时配置文件
	runtimeConfig *config.RuntimeConfig

	// 快照推送，为nil时不推送
	hub *websocket.Hub

	// 用于初始化的输入
	initRes *input.Input
}

// NewContext 创建新的仿真任务上下文
// 参数：
//   - job: 任务名称
//   - cacheDir: 缓存目录
//   - c: 配置对象
//   - sidecar: sidecar实例（可为nil）
//   - startSidecarServe: 是否启动sidecar服务
//   - hub: 快照推送（可为nil）
//
// 算法说明：
// 1. 加载输入数据，构建路网，将配置中的节点ID转换为路网节点ID
// 2. 合并拓扑文件与配置文件中的车辆类别参数（配置文件优先）
// 3. 创建寻路器、交通管理器、应急车辆管理器
// 4. 注册RPC服务到sidecar，启动sidecar服务（如果需要）
func NewContext(
	job string,
	cacheDir string,
	c config.Config,
	sidecar *syncer.Sidecar,
	startSidecarServe bool,
	hub *websocket.Hub,
) (*Context, error) {
	ctx := &Context{
		job:            job,
		cacheDir:       cacheDir,
		sidecar:        sidecar,
		sidecarCloseCh: make(chan struct{}),
		hub:            hub,
	}
	ctx.clock = clock.New(c.Control.Step)

	// 下载所有模拟器启动所需的数据
	initRes, err := input.Init(c, ctx.cacheDir)
	if err != nil {
		return nil, err
	}
	ctx.initRes = initRes
	ctx.network = network.New(0)
	if err := initRes.Build(ctx.network); err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	// 配置中的节点ID与输入数据一致，转换为路网节点ID
	if c.Control.Spawn.FluxNodes, err = initRes.NodeIDs(c.Control.Spawn.FluxNodes); err != nil {
		return nil, fmt.Errorf("control.spawn.flux_nodes: %w", err)
	}
	if c.Control.Spawn.EntryNodes, err = initRes.NodeIDs(c.Control.Spawn.EntryNodes); err != nil {
		return nil, fmt.Errorf("control.spawn.entry_nodes: %w", err)
	}
	ctx.runtimeConfig = config.NewRuntimeConfig(c)

	types := make(map[string]config.VehicleType)
	if initRes.Topology != nil {
		for k, v := range initRes.Topology.VehicleTypes {
			types[k] = v
		}
	}
	for k, v := range c.VehicleTypes {
		types[k] = v
	}
	params, err := vehicle.ParamsFromConfig(types)
	if err != nil {
		return nil, err
	}

	ctx.router = route.New(ctx.network, ctx.runtimeConfig.C.Traffic.PathCostLaneCoeff)
	ctx.trafficManager = traffic.NewManager(ctx, vehicle.NewFactory(params, nil))
	ctx.emergencyManager = emergency.NewManager(ctx)
	if err := ctx.emergencyManager.Init(); err != nil {
		return nil, err
	}

	if ctx.sidecar != nil {
		ctx.clock.Register(ctx.sidecar)
		ctx.network.Register(ctx.sidecar)
	}

	// sidecar协程，用于提供gRPC服务
	if ctx.sidecar != nil && startSidecarServe {
		go func() {
			err := ctx.sidecar.Serve()
			if err != nil {
				log.Panicf("failed to serve: %v", err)
			}
			ctx.sidecarCloseCh <- struct{}{}
		}()
	}

	return ctx, nil
}

func (ctx *Context) GetInput() *input.Input {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

func (ctx *Context) Network() entity.INetwork {
	return ctx.network
}

func (ctx *Context) Router() entity.IRouter {
	return ctx.router
}

func (ctx *Context) TrafficManager() entity.ITrafficManager {
	return ctx.trafficManager
}

func (ctx *Context) EmergencyManager() entity.IEmergencyManager {
	return ctx.emergencyManager
}

// Init 初始化
// 功能：重置时钟，输出路网信息，一次性安排非周期的轮询生成
// 说明：control.spawn.interval为0且total为正时，在开始前安排全部total个请求
func (ctx *Context) Init() {
	ctx.clock.Init()
	ctx.network.PrintNetworkInfo()

	spawn := ctx.runtimeConfig.C.Spawn
	if spawn.Interval <= 0 && spawn.Total > 0 {
		if err := ctx.trafficManager.ScheduleRoundRobin(spawn.Total); err != nil {
			log.Warnf("round robin demand: %v", err)
			return
		}
		for ctx.trafficManager.SpawnNext() {
		}
	}
}

// Close 关闭任务
// 说明：信号处理协程与Run结束时都会调用，只有第一次调用关闭sidecar，其余调用等待其完成后返回
func (ctx *Context) Close() {
	ctx.closeOnce.Do(func() {
		ctx.closed.Store(true)
		if ctx.sidecar != nil {
			ctx.sidecar.Close()
			// wait for graceful stop
			<-ctx.sidecarCloseCh
		}
	})
}
