package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入路径的配置结构，支持多种数据源
// 说明：支持MongoDB数据库和文件系统两种数据源，支持缓存机制
type InputPath struct {
	DB        string `yaml:"db"`                   // 数据库名
	Col       string `yaml:"col"`                  // 集合名
	Cache     string `yaml:"cache,omitempty"`      // 缓存文件名，为空则采用默认路径{db}.{col}.pb
	OnlyCache bool   `yaml:"only_cache,omitempty"` // 只从缓存中获取
	File      string `yaml:"file,omitempty"`       // 文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// GetCachePath 获取缓存文件路径
// 功能：返回缓存文件的完整路径
// 返回：缓存文件路径字符串
// 说明：未指定时使用默认命名规则：{数据库名}.{集合名}.pb
func (p InputPath) GetCachePath() string {
	if p.Cache != "" {
		return p.Cache
	}
	return p.DB + "." + p.Col + ".pb"
}

// Input 指定模拟器所有输入数据的配置项
// 功能：定义路网的输入来源
// 说明：Topology（JSON/YAML拓扑文件）与Map（城市地图protobuf）二选一，Topology优先
type Input struct {
	URI      string     `yaml:"uri,omitempty"`      // MongoDB连接字符串
	Topology string     `yaml:"topology,omitempty"` // 拓扑文件路径
	Map      *InputPath `yaml:"map,omitempty"`      // 城市地图
}

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
}

// Traffic 交通协调参数
// 功能：车辆跟驰、换道、路口占用判定使用的经验阈值
// 说明：零值字段在Normalize中填充默认值
type Traffic struct {
	CriticalDistance  float64 `yaml:"critical_distance,omitempty"` // 与前车小于该距离时停车
	MinDistance       float64 `yaml:"min_distance,omitempty"`      // 与前车小于该距离时急减速
	BrakeSpeedFloor   float64 `yaml:"brake_speed_floor,omitempty"` // 急减速时的速度下限
	BrakeDecel        float64 `yaml:"brake_decel,omitempty"`       // 急减速度
	LeaderCone        float64 `yaml:"leader_cone,omitempty"`       // 前车判定的前向锥（点积阈值）
	ProximityRadius   float64 `yaml:"proximity_radius,omitempty"`  // 跨路段前车搜索半径
	ProximityCone     float64 `yaml:"proximity_cone,omitempty"`    // 跨路段前车搜索的前向锥
	LaneChangeP       float64 `yaml:"lane_change_p,omitempty"`     // 每步换道概率
	LaneChangeGap     float64 `yaml:"lane_change_gap,omitempty"`   // 换道目标车道的进度间隙
	LaneChangeDiff    int     `yaml:"lane_change_diff,omitempty"`  // 触发换道的拥堵差
	ApproachMargin    float64 `yaml:"approach_margin,omitempty"`   // 路口接近区外扩距离
	ExitMargin        float64 `yaml:"exit_margin,omitempty"`       // 路口驶离判定外扩距离
	StopDistance      float64 `yaml:"stop_distance,omitempty"`     // 红灯停车线距离路段终点的距离
	ObeyLights        *bool   `yaml:"obey_lights,omitempty"`       // 是否遵守信号灯
	FollowModel       string  `yaml:"follow_model,omitempty"`      // 跟驰模型 simple|idm
	RoundaboutRadius  float64 `yaml:"roundabout_radius,omitempty"` // 按半径识别环岛的阈值，0表示仅按类型识别
	PathCostLaneCoeff float64 `yaml:"path_cost_lane_coeff,omitempty"`
	Seed              uint64  `yaml:"seed,omitempty"` // 随机种子
}

// Spawn 车辆生成参数
type Spawn struct {
	Cooldown         float64            `yaml:"cooldown,omitempty"`           // 同一起点两次生成的最小间隔（秒）
	Clearance        float64            `yaml:"clearance,omitempty"`          // 生成点与已有车辆的最小距离
	MaxPendingSpawns int                `yaml:"max_pending_spawns,omitempty"` // 等待队列上限
	FluxNodes        []int32            `yaml:"flux_nodes,omitempty"`         // 允许生成/消失的节点，为空表示不限制
	EntryNodes       []int32            `yaml:"entry_nodes,omitempty"`        // 轮询生成的入口节点
	Interval         float64            `yaml:"interval,omitempty"`           // 轮询生成的时间间隔（秒），0表示不自动生成
	Total            int                `yaml:"total,omitempty"`              // 轮询生成的车辆总数
	Weights          map[string]float64 `yaml:"weights,omitempty"`            // 车辆类别权重
}

// Emergency 应急车辆参数
type Emergency struct {
	Hospitals      []Hospital `yaml:"hospitals,omitempty"`
	LightRange     float64    `yaml:"light_range,omitempty"`      // 救护车/消防车预清信号灯的距离
	PoliceRange    float64    `yaml:"police_range,omitempty"`     // 警车预清信号灯的距离
	OverrideTime   float64    `yaml:"override_time,omitempty"`    // 信号灯强制绿灯时长
	YieldRange     float64    `yaml:"yield_range,omitempty"`      // 社会车辆让行距离
	YieldStopRange float64    `yaml:"yield_stop_range,omitempty"` // 社会车辆停车让行距离
}

// Hospital 医院（应急车辆停靠点）
type Hospital struct {
	Name     string     `yaml:"name"`
	Position [3]float64 `yaml:"position"`
}

// VehicleType 车辆类别参数
type VehicleType struct {
	MaxSpeed     float64 `yaml:"max_speed,omitempty" json:"max_speed,omitempty"`
	Acceleration float64 `yaml:"acceleration,omitempty" json:"acceleration,omitempty"`
	Length       float64 `yaml:"length,omitempty" json:"length,omitempty"`
	Color        string  `yaml:"color,omitempty" json:"color,omitempty"` // #RRGGBB
	Model        string  `yaml:"model,omitempty" json:"model,omitempty"` // 渲染资源句柄
}

// Control 模拟器控制配置
type Control struct {
	Step             ControlStep `yaml:"step"`
	Traffic          Traffic     `yaml:"traffic,omitempty"`
	Spawn            Spawn       `yaml:"spawn,omitempty"`
	Emergency        Emergency   `yaml:"emergency,omitempty"`
	SnapshotInterval int32       `yaml:"snapshot_interval,omitempty"` // 快照推送间隔步数
}

// Config YAML配置文件的根结构
type Config struct {
	Input        Input                  `yaml:"input"`                   // 输入
	Control      Control                `yaml:"control"`                 // 模拟过程控制
	VehicleTypes map[string]VehicleType `yaml:"vehicle_types,omitempty"` // 车辆类别（CAR/BUS/TRUCK/...）
}
