package model

// AuditLog 表示一条操作审计（对应 audit_logs 表），通过 chain_hash 串成哈希链。
type AuditLog struct {
	EventID       string `json:"event_id"`
	SessionID     string `json:"session_id,omitempty"`
	DeviceKey     string `json:"device_key,omitempty"` // 形如 0B95:772B
	EventType     string `json:"event_type"`
	Action        string `json:"action"`
	Status        string `json:"status"`
	Actor         string `json:"actor,omitempty"`
	Source        string `json:"source,omitempty"`
	DetailJSON    []byte `json:"detail_json,omitempty"`
	OccurredAt    int64  `json:"occurred_at"`
	ChainPrevHash string `json:"chain_prev_hash,omitempty"`
	ChainHash     string `json:"chain_hash"`
}

// ReportInfo 是报告/导出产物登记信息（对应 reports 表）。
type ReportInfo struct {
	ReportID         string `json:"report_id"`
	ReportType       string `json:"report_type"`
	FilePath         string `json:"file_path"`
	SHA256           string `json:"sha256"`
	GeneratedAt      int64  `json:"generated_at"`
	GeneratorVersion string `json:"generator_version"`
	Status           string `json:"status"`
}
