package config

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v2"
)

var (
	ErrNoInput      = errors.New("input.topology or input.map must be specified")
	ErrBadInterval  = errors.New("control.step.interval must be positive")
	ErrBadThreshold = errors.New("control.traffic.critical_distance must be less than min_distance")
)

// 交通协调参数默认值
const (
	DefaultCriticalDistance  = 10.
	DefaultMinDistance       = 22.
	DefaultBrakeSpeedFloor   = 10.
	DefaultBrakeDecel        = 30.
	DefaultLeaderCone        = 0.4
	DefaultProximityRadius   = 30.
	DefaultProximityCone     = 0.5
	DefaultLaneChangeP       = 0.1
	DefaultLaneChangeGap     = 0.08
	DefaultLaneChangeDiff    = 2
	DefaultApproachMargin    = 30.
	DefaultExitMargin        = 5.
	DefaultStopDistance      = 12.
	DefaultPathCostLaneCoeff = 0.18

	DefaultSpawnCooldown    = 2.5
	DefaultSpawnClearance   = 25.
	DefaultMaxPendingSpawns = 256

	DefaultLightRange     = 200.
	DefaultPoliceRange    = 80.
	DefaultOverrideTime   = 5.
	DefaultYieldRange     = 80.
	DefaultYieldStopRange = 30.

	FollowModelSimple = "simple"
	FollowModelIDM    = "idm"
)

// RuntimeConfig 运行时配置
// 功能：存储填充默认值后的配置，供各模块读取
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置
}

// NewRuntimeConfig 根据配置初始化运行时配置
// 功能：创建运行时配置对象，填充默认值
// 参数：config-原始配置对象
// 返回：初始化的运行时配置指针
func NewRuntimeConfig(config Config) *RuntimeConfig {
	rc := &RuntimeConfig{}
	config.Control.Normalize()
	rc.All = config
	rc.C = config.Control
	return rc
}

// Parse 解析YAML配置（严格模式，未知字段报错）
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	if c.Input.Topology == "" && c.Input.Map == nil {
		return ErrNoInput
	}
	if c.Control.Step.Interval <= 0 {
		return ErrBadInterval
	}
	t := c.Control.Traffic
	if t.CriticalDistance != 0 && t.MinDistance != 0 && t.CriticalDistance >= t.MinDistance {
		return ErrBadThreshold
	}
	return nil
}

// Normalize 为未填写的控制参数填充默认值
func (c *Control) Normalize() {
	c.Traffic.Normalize()
	s := &c.Spawn
	if s.Cooldown == 0 {
		s.Cooldown = DefaultSpawnCooldown
	}
	if s.Clearance == 0 {
		s.Clearance = DefaultSpawnClearance
	}
	if s.MaxPendingSpawns == 0 {
		s.MaxPendingSpawns = DefaultMaxPendingSpawns
	}
	e := &c.Emergency
	if e.LightRange == 0 {
		e.LightRange = DefaultLightRange
	}
	if e.PoliceRange == 0 {
		e.PoliceRange = DefaultPoliceRange
	}
	if e.OverrideTime == 0 {
		e.OverrideTime = DefaultOverrideTime
	}
	if e.YieldRange == 0 {
		e.YieldRange = DefaultYieldRange
	}
	if e.YieldStopRange == 0 {
		e.YieldStopRange = DefaultYieldStopRange
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 1
	}
}

// Normalize 为未填写的交通协调参数填充默认值
func (t *Traffic) Normalize() {
	setDefault := func(v *float64, d float64) {
		if *v == 0 {
			*v = d
		}
	}
	setDefault(&t.CriticalDistance, DefaultCriticalDistance)
	setDefault(&t.MinDistance, DefaultMinDistance)
	setDefault(&t.BrakeSpeedFloor, DefaultBrakeSpeedFloor)
	setDefault(&t.BrakeDecel, DefaultBrakeDecel)
	setDefault(&t.LeaderCone, DefaultLeaderCone)
	setDefault(&t.ProximityRadius, DefaultProximityRadius)
	setDefault(&t.ProximityCone, DefaultProximityCone)
	setDefault(&t.LaneChangeP, DefaultLaneChangeP)
	setDefault(&t.LaneChangeGap, DefaultLaneChangeGap)
	setDefault(&t.ApproachMargin, DefaultApproachMargin)
	setDefault(&t.ExitMargin, DefaultExitMargin)
	setDefault(&t.StopDistance, DefaultStopDistance)
	setDefault(&t.PathCostLaneCoeff, DefaultPathCostLaneCoeff)
	if t.LaneChangeDiff == 0 {
		t.LaneChangeDiff = DefaultLaneChangeDiff
	}
	if t.ObeyLights == nil {
		obey := true
		t.ObeyLights = &obey
	}
	if t.FollowModel == "" {
		t.FollowModel = FollowModelSimple
	}
}

// ObeyLightsEnabled 是否遵守信号灯
func (t Traffic) ObeyLightsEnabled() bool {
	return t.ObeyLights == nil || *t.ObeyLights
}
