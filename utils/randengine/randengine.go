// 随机数引擎，包装了golang.org/x/exp/rand，保证同一种子下仿真结果可复现
package randengine

import (
	"flag"
	"log"

	"golang.org/x/exp/rand"
)

var (
	seedOffset = flag.Uint64("rand.seed_offset", 0, "seed offset") // 种子偏移量，用于调整随机数生成
)

// Engine 随机数引擎（非线程安全）
// 说明：只在交通管理器的串行阶段使用
type Engine struct {
	*rand.Rand
}

// New 创建随机数引擎
// 参数：seed-随机数种子，实际种子为seed加上命令行的种子偏移量
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + *seedOffset))}
}

// DiscreteDistribution 按权重抽样下标
// 参数：weight-非负权重，总和必须为正
// 返回：[0, len(weight))范围内的下标
func (e *Engine) DiscreteDistribution(weight []float64) int32 {
	total := .0
	for _, w := range weight {
		total += w
	}
	if total <= 0 {
		log.Panicf("randengine: DiscreteDistribution: non-positive total weight %f", total)
	}
	random := total * e.Float64()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > random {
			return int32(i)
		}
	}
	// 浮点误差
	return int32(len(weight) - 1)
}

// PTrue 以概率p返回true
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}
