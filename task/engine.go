package task

import (
	"flag"
	"sync"
)

const (
	SelfName = "roadnet" // 本程序在模拟任务集群中的名字
)

var (
	heartBeatInterval = flag.Int("log.heartbeat_interval", 100, "心跳日志间隔步数")
)

// prepare 准备阶段，每步执行一次
// 功能：在每个仿真步骤开始时进行准备工作
// 算法说明：
// 1. 推进时钟
// 2. 心跳日志：定期输出时间与车辆统计
// 3. 并行准备：路网（节点、信号灯快照、路口占用）与交通管理器（车辆插入与移除）互不依赖
func (ctx *Context) prepare() {
	ctx.clock.Tick()

	if *heartBeatInterval > 0 && ctx.clock.Step%int32(*heartBeatInterval) == 0 {
		stats := ctx.trafficManager.Stats()
		log.Infof(
			"STEP: %d(%s) vehicles=%d spawned=%d finished=%d",
			ctx.clock.Step, ctx.clock,
			len(ctx.trafficManager.Vehicles()), stats.NumSpawned, stats.NumFinished,
		)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx.network.Prepare() // node & intersection
	}()
	go func() {
		defer wg.Done()
		ctx.trafficManager.Prepare() // vehicle
	}()
	wg.Wait()
}

// update 更新阶段，每步执行一次
// 算法说明：
// 1. 应急车辆管理器：发车、完成任务、请求信号灯优先与设置让行，需在车辆更新前完成
// 2. 并行更新：信号灯相位切换与车辆运动，车辆只读取准备阶段写入的信号灯快照
// 3. 按间隔推送快照
func (ctx *Context) update() {
	dt := ctx.clock.DT
	ctx.emergencyManager.Update(dt)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx.network.Update(dt) // light
	}()
	go func() {
		defer wg.Done()
		ctx.trafficManager.Update(dt) // vehicle
	}()
	wg.Wait()

	if ctx.hub != nil && ctx.clock.Elapsed()%ctx.runtimeConfig.C.SnapshotInterval == 0 {
		ctx.hub.Broadcast(ctx.snapshotMessage())
	}
}

// Run 运行
// 说明：与syncer同步推进，到达结束步或收到关闭指令时退出
func (ctx *Context) Run() {
	// 初始化
	ctx.Init()
	// init syncer
	ctx.sidecar.Step(false)
	for {
		ctx.prepare()
		// 通知准备阶段完成
		log.Debugf("step %d: prepare complete and call NotifyStepReady", ctx.clock.Step)
		ctx.sidecar.NotifyStepReady()
		ctx.update()
		log.Debugf("step %d: update complete", ctx.clock.Step)
		close := false
		if ctx.clock.END_STEP >= 0 && ctx.clock.Step+1 >= ctx.clock.END_STEP {
			close = ctx.sidecar.Step(true)
		} else {
			close = ctx.sidecar.Step(false)
		}
		if close || ctx.closed.Load() {
			break
		}
	}
	log.Infof("engine complete")
	ctx.Close()
}

// RunStandalone 不接入syncer时运行
// 说明：按时钟推进到结束步，或在stop关闭时退出
func (ctx *Context) RunStandalone(stop <-chan struct{}) {
	ctx.Init()
	for !ctx.clock.Done() && !ctx.closed.Load() {
		select {
		case <-stop:
			log.Infof("engine stopped at step %d", ctx.clock.Step)
			return
		default:
		}
		ctx.prepare()
		ctx.update()
	}
	log.Infof("engine complete")
}
