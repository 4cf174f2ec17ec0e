package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/roadnet-sim/utils/config"
)

func TestParseAndDefaults(t *testing.T) {
	data := []byte(`
input:
  topology: data/city.json
control:
  step:
    start: 0
    total: 100
    interval: 0.1
  traffic:
    lane_change_p: 0.2
  spawn:
    flux_nodes: [1, 3]
vehicle_types:
  CAR:
    max_speed: 20
`)
	c, err := config.Parse(data)
	require.NoError(t, err)
	rc := config.NewRuntimeConfig(c)
	assert.Equal(t, 0.2, rc.C.Traffic.LaneChangeP)
	assert.Equal(t, config.DefaultCriticalDistance, rc.C.Traffic.CriticalDistance)
	assert.Equal(t, config.DefaultSpawnCooldown, rc.C.Spawn.Cooldown)
	assert.Equal(t, []int32{1, 3}, rc.C.Spawn.FluxNodes)
	assert.True(t, rc.C.Traffic.ObeyLightsEnabled())
	assert.Equal(t, config.FollowModelSimple, rc.C.Traffic.FollowModel)
	assert.Equal(t, 20., rc.All.VehicleTypes["CAR"].MaxSpeed)
}

func TestParseStrict(t *testing.T) {
	_, err := config.Parse([]byte(`
input:
  topology: a.json
control:
  step: {start: 0, total: 1, interval: 1}
  unknown_field: 1
`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := config.Parse([]byte(`
control:
  step: {start: 0, total: 1, interval: 1}
`))
	assert.ErrorIs(t, err, config.ErrNoInput)

	_, err = config.Parse([]byte(`
input: {topology: a.json}
control:
  step: {start: 0, total: 1, interval: 0}
`))
	assert.ErrorIs(t, err, config.ErrBadInterval)

	_, err = config.Parse([]byte(`
input: {topology: a.json}
control:
  step: {start: 0, total: 1, interval: 1}
  traffic: {critical_distance: 30, min_distance: 20}
`))
	assert.ErrorIs(t, err, config.ErrBadThreshold)
}
