package model

// Diagnosis 是设备健康度的聚合结论。
type Diagnosis string

const (
	DiagnosisHealthy  Diagnosis = "healthy"
	DiagnosisDegraded Diagnosis = "degraded"
	DiagnosisBricked  Diagnosis = "bricked"
	DiagnosisUnknown  Diagnosis = "unknown"
)

// DiagnosticResult 是 5 个探针的结果与聚合结论。
type DiagnosticResult struct {
	Device                   Identity  `json:"device"`
	DeviceDetected           bool      `json:"device_detected"`
	DescriptorsReadable      bool      `json:"descriptors_readable"`
	MemoryReadable           bool      `json:"memory_readable"`
	MemoryWritable           bool      `json:"memory_writable"`
	VendorCommandsResponsive bool      `json:"vendor_commands_responsive"`
	Diagnosis                Diagnosis `json:"diagnosis"`
	Issues                   []string  `json:"issues,omitempty"`
	Recommendations          []string  `json:"recommendations,omitempty"`
}

// Difficulty 是恢复手段的难度档位。
type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyModerate Difficulty = "moderate"
	DifficultyHard     Difficulty = "hard"
	DifficultyExpert   Difficulty = "expert"
)

// RecoveryMethod 是一条恢复手段。SuccessRate 为经验值 [0,1]，0 表示无统计。
type RecoveryMethod struct {
	Name             string     `json:"name"`
	Difficulty       Difficulty `json:"difficulty"`
	RequiresHardware bool       `json:"requires_hardware"`
	Steps            []string   `json:"steps"`
	SuccessRate      float64    `json:"success_rate"`
}
