package clock_test

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	clockv1 "git.fiblab.net/sim/protos/v2/go/city/clock/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadnet-sim/clock"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
)

func TestClockTick(t *testing.T) {
	c := clock.New(config.ControlStep{Start: 36000, Total: 2, Interval: 0.5})
	assert.Equal(t, 18000., c.T)
	assert.Equal(t, "05:00:00", c.String())
	assert.False(t, c.Done())
	c.Tick()
	c.Tick()
	assert.True(t, c.Done())
	assert.Equal(t, int32(2), c.Elapsed())
	assert.Equal(t, 18001., c.T)

	res, err := c.Now(context.Background(), connect.NewRequest(&clockv1.NowRequest{}))
	require.NoError(t, err)
	assert.Equal(t, 18001., res.Msg.T)
}

func TestClockUnbounded(t *testing.T) {
	c := clock.New(config.ControlStep{Interval: 0.1})
	for range 100 {
		c.Tick()
	}
	assert.False(t, c.Done())
}
