package randengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/randengine"
)

func TestSameSeedSameSequence(t *testing.T) {
	a, b := randengine.New(7), randengine.New(7)
	for range 20 {
		assert.Equal(t, a.Intn(1000), b.Intn(1000))
	}
}

func TestDiscreteDistribution(t *testing.T) {
	e := randengine.New(1)
	counts := make([]int, 3)
	for range 3000 {
		counts[e.DiscreteDistribution([]float64{0, 1, 3})]++
	}
	assert.Zero(t, counts[0])
	assert.InDelta(t, 750, counts[1], 150)
	assert.InDelta(t, 2250, counts[2], 150)

	assert.Panics(t, func() { e.DiscreteDistribution([]float64{0, 0}) })
}

func TestPTrue(t *testing.T) {
	e := randengine.New(1)
	assert.False(t, e.PTrue(0))
	assert.True(t, e.PTrue(1))
}
