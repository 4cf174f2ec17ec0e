package entity

import (
	"github.com/tsinghua-fib-lab/roadnet-sim/clock"
	"github.com/tsinghua-fib-lab/roadnet-sim/entity/node"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
)

// 寻路模块接口
type IRouter interface {
	// 路径规划（同步版本），不可达时返回空序列
	FindPath(start, end *node.Node) []*node.Node
	// 路径规划（回调版本）
	FindPathAsync(start, end *node.Node, process func(path []*node.Node)) chan struct{}
}

type ITaskContext interface {
	Clock() *clock.Clock
	RuntimeConfig() *config.RuntimeConfig
	Network() INetwork
	Router() IRouter
	TrafficManager() ITrafficManager
	EmergencyManager() IEmergencyManager
}
