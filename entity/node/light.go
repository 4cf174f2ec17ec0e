package node

import (
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/mathutil"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
)

// Cycle 信号灯三色配时（秒）
type Cycle struct {
	Green  float64
	Yellow float64
	Red    float64
}

// DefaultCycle 默认配时
var DefaultCycle = Cycle{Green: 10, Yellow: 3, Red: 10}

// Program 将三色配时转换为相位程序（绿->黄->红）
func (c Cycle) Program(nodeID int32) *mapv2.TrafficLight {
	return &mapv2.TrafficLight{
		JunctionId: nodeID,
		Phases: []*mapv2.Phase{
			{Duration: c.Green, States: []mapv2.LightState{mapv2.LightState_LIGHT_STATE_GREEN}},
			{Duration: c.Yellow, States: []mapv2.LightState{mapv2.LightState_LIGHT_STATE_YELLOW}},
			{Duration: c.Red, States: []mapv2.LightState{mapv2.LightState_LIGHT_STATE_RED}},
		},
	}
}

// lightRuntime 信号灯运行时数据
type lightRuntime struct {
	tl         *mapv2.TrafficLight
	step       int32
	totalTime  float64
	remainingT float64
	override   float64 // 应急强制绿灯剩余时间
}

// LightControl 节点信号灯控制器
// 功能：按固定相位程序循环切换红黄绿，支持关闭（常绿）与应急车辆强制绿灯
// 说明：采用snapshot/runtime双缓冲，读取方只读snapshot，外部写入经buffer在下一步生效
type LightControl struct {
	nodeID int32

	snapshot lightRuntime  // 快照，供车辆与RPC读取
	runtime  lightRuntime  // 运行时数据
	buffer   *lightRuntime // 交互式接口写入的buffer
	ok       bool          // 信号灯状态，true为开启，false为关闭（常绿）
	okBuffer bool

	overrideBuffer float64 // 应急强制绿灯请求
	mtx            sync.Mutex
}

// NewLightControl 创建信号灯控制器
// 功能：根据三色配时生成相位程序，初始相位按节点ID错开
func NewLightControl(nodeID int32, cycle Cycle) *LightControl {
	l := &LightControl{
		nodeID:   nodeID,
		ok:       true,
		okBuffer: true,
	}
	tl := cycle.Program(nodeID)
	phaseIndex := nodeID % int32(len(tl.Phases))
	l.runtime = lightRuntime{tl: tl, step: phaseIndex, remainingT: tl.Phases[phaseIndex].Duration}
	l.runtime.totalTime = l.runtime.remainingT
	l.snapshot = l.runtime
	return l
}

// Prepare 准备阶段
// 功能：应用开关与应急请求，写入快照
func (l *LightControl) Prepare() {
	l.mtx.Lock()
	l.ok = l.okBuffer
	if l.overrideBuffer > l.runtime.override {
		l.runtime.override = l.overrideBuffer
	}
	l.overrideBuffer = 0
	l.mtx.Unlock()
	l.snapshot = l.runtime
}

// Update 更新阶段，执行相位切换
// 算法说明：
// 1. 处理buffer中的新程序或相位设置
// 2. 扣减应急强制绿灯时间
// 3. 扣减当前相位剩余时间，归零时切换到下一个持续时间为正的相位
func (l *LightControl) Update(dt float64) {
	l.mtx.Lock()
	if l.buffer != nil {
		override := l.runtime.override
		l.runtime = *l.buffer
		l.runtime.override = override
		l.buffer = nil
	}
	l.mtx.Unlock()
	if l.runtime.override > 0 {
		l.runtime.override = max(0, l.runtime.override-dt)
	}
	if l.runtime.tl == nil || !l.ok {
		return
	}
	l.runtime.remainingT -= dt
	if l.runtime.remainingT <= 0 {
		l.runtime.remainingT = 0
		l.runtime.totalTime = 0
		for {
			l.runtime.step = (l.runtime.step + 1) % int32(len(l.runtime.tl.Phases))
			l.runtime.remainingT += l.runtime.tl.Phases[l.runtime.step].Duration
			if l.runtime.remainingT > 0 {
				l.runtime.totalTime = l.runtime.remainingT
				break
			}
		}
	}
}

// State 当前灯色
// 说明：信号灯关闭或处于应急强制绿灯时为绿灯
func (l *LightControl) State() mapv2.LightState {
	if l.snapshot.tl == nil || !l.ok || l.snapshot.override > 0 {
		return mapv2.LightState_LIGHT_STATE_GREEN
	}
	return l.snapshot.tl.Phases[l.snapshot.step].States[0]
}

// 当前相位程序
func (l *LightControl) Get() *mapv2.TrafficLight {
	return l.snapshot.tl
}

// 当前相位
func (l *LightControl) Step() int32 {
	return l.snapshot.step
}

// 当前相位剩余时长
func (l *LightControl) RemainingTime() float64 {
	if l.snapshot.tl == nil || !l.ok {
		return mathutil.INF
	}
	return l.snapshot.remainingT
}

// 信号灯开关情况
func (l *LightControl) Ok() bool {
	return l.ok
}

// HasEmergencyOverride 是否处于应急强制绿灯
func (l *LightControl) HasEmergencyOverride() bool {
	return l.snapshot.override > 0
}

// SetEmergencyOverride 请求应急强制绿灯，下一步生效
// 说明：多次请求取最长时长
func (l *LightControl) SetEmergencyOverride(duration float64) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if duration > l.overrideBuffer {
		l.overrideBuffer = duration
	}
}

// SetPhase 设置信号灯相位与剩余时间，下一步生效
func (l *LightControl) SetPhase(offset int32, remainingT float64) error {
	tl := l.snapshot.tl
	if tl == nil {
		return fmt.Errorf("node %d has no traffic light program", l.nodeID)
	}
	if offset < 0 || offset >= int32(len(tl.Phases)) {
		return fmt.Errorf("phase index %d out of range [0, %d)", offset, len(tl.Phases))
	}
	if remainingT <= 0 {
		remainingT = tl.Phases[offset].Duration
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.buffer = &lightRuntime{tl: tl, step: offset, remainingT: remainingT, totalTime: remainingT}
	return nil
}

// SetCycle 以新的三色配时替换相位程序，下一步生效
func (l *LightControl) SetCycle(cycle Cycle) error {
	if cycle.Green < 0 || cycle.Yellow < 0 || cycle.Red < 0 || cycle.Green+cycle.Yellow+cycle.Red <= 0 {
		return fmt.Errorf("invalid light cycle %+v", cycle)
	}
	tl := cycle.Program(l.nodeID)
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.buffer = &lightRuntime{tl: tl, step: 0, remainingT: tl.Phases[0].Duration, totalTime: tl.Phases[0].Duration}
	return nil
}

// SetOk 设置信号灯开关（true工作|false失效-常绿），下一步生效
func (l *LightControl) SetOk(ok bool) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.okBuffer = ok
}
