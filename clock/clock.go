package clock

import (
	"fmt"

	"git.fiblab.net/sim/protos/v2/go/city/clock/v1/clockv1connect"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
)

// Clock 仿真时钟
// 功能：管理仿真时间推进，固定步长，模拟区间[START_STEP, END_STEP)
type Clock struct {
	clockv1connect.UnimplementedClockServiceHandler

	DT         float64 // 每步时间间隔（秒）
	START_STEP int32   // 起始步
	END_STEP   int32   // 结束步，Total为0时不限制

	T    float64 // 当前时间（秒）
	Step int32   // 当前步数
}

// New 根据配置创建时钟
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:         stepConfig.Interval,
		START_STEP: stepConfig.Start,
		END_STEP:   stepConfig.Start + stepConfig.Total,
	}
	if stepConfig.Total <= 0 {
		c.END_STEP = -1
	}
	c.Init()
	return c
}

// Init 重置到起始步
func (c *Clock) Init() {
	c.Step = c.START_STEP
	c.T = float64(c.Step) * c.DT
}

// Tick 推进一步
func (c *Clock) Tick() {
	c.Step++
	c.T = float64(c.Step) * c.DT
}

// Done 是否已到达结束步
func (c *Clock) Done() bool {
	return c.END_STEP >= 0 && c.Step >= c.END_STEP
}

// Elapsed 从起始步开始经过的步数
func (c *Clock) Elapsed() int32 {
	return c.Step - c.START_STEP
}

// String 格式化为HH:MM:SS
func (c *Clock) String() string {
	t := c.T
	h := int(t / 3600)
	t -= float64(h * 3600)
	m := int(t / 60)
	t -= float64(m * 60)
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
