package entity

// SpawnStatus 车辆生成结果
type SpawnStatus int32

const (
	SpawnRejected SpawnStatus = iota // 未生成（错误或不可达）
	SpawnSpawned                     // 已生成
	SpawnQueued                      // 已排队，冷却结束后重试
)

func (s SpawnStatus) String() string {
	switch s {
	case SpawnSpawned:
		return "spawned"
	case SpawnQueued:
		return "queued"
	default:
		return "rejected"
	}
}
