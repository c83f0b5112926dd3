package spoofer

import (
	"context"

	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/logging"
	"eeprom-spoofer/internal/platform/metrics"
)

// State 是写入流程的状态。
type State string

const (
	StateValidating       State = "validating"
	StateBackingUp        State = "backing_up"
	StatePreparing        State = "preparing"
	StateWritingIdentity  State = "writing_identity"
	StateUpdatingChecksum State = "updating_checksum"
	StateVerifying        State = "verifying"
	StateComplete         State = "complete"
	StateRollingBack      State = "rolling_back"
	StateFailed           State = "failed"
)

// TotalSteps 是正常路径的步数（validating..complete）。
const TotalSteps = 7

// Progress 在每次状态转换时同步回调。
type Progress struct {
	Step       int     `json:"step"`
	TotalSteps int     `json:"total_steps"`
	State      State   `json:"state"`
	Message    string  `json:"message"`
	Percentage float64 `json:"percentage"`
}

// ProgressCallback 在写入流程的同一执行序列上被调用，应尽快返回。
type ProgressCallback func(Progress)

// SnapshotSaver 持久化写入前的整片镜像。返回前必须已落盘。
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, dev model.DeviceInfo, img model.MemoryImage) (*model.Backup, error)
}

// Auditor 追加审计日志。
type Auditor interface {
	AppendAudit(ctx context.Context, sessionID, deviceKey, eventType, action, status, actor, source string, detail any) error
}

// Config 是 Writer 的配置。
type Config struct {
	Progress ProgressCallback
	DryRun   bool
	Logger   logging.Logger
	Metrics  *metrics.Collector
	Audit    Auditor
	Actor    string
	Source   string
}

// Option 是 Writer 的函数式配置。
type Option func(*Config)

func WithProgress(cb ProgressCallback) Option {
	return func(c *Config) { c.Progress = cb }
}

func WithDryRun(dryRun bool) Option {
	return func(c *Config) { c.DryRun = dryRun }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Config) { c.Logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithAudit 设置审计日志落点与操作者信息。
func WithAudit(a Auditor, actor, source string) Option {
	return func(c *Config) {
		c.Audit = a
		c.Actor = actor
		c.Source = source
	}
}

func defaultConfig() Config {
	return Config{
		Logger: logging.Nop(),
		Actor:  "operator",
		Source: "spoofer",
	}
}
