package webapp

import (
	"context"
	"sync"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
)

// deviceSession 是唯一的设备会话。所有设备操作在 mu 下串行执行，
// 设备协议不允许交错事务。
type deviceSession struct {
	mu   sync.Mutex
	open transport.Opener
	t    transport.Transport

	// last 是最近一次分析结果，预览与写入都以它为准。
	last *model.AnalysisResult
}

func (d *deviceSession) with(ctx context.Context, fn func(t transport.Transport) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t == nil || !d.t.IsOpen() {
		if d.open == nil {
			return fault.Connection("open device", "no device configured")
		}
		t, err := d.open(ctx)
		if err != nil {
			return &fault.Error{Kind: fault.KindConnection, Op: "open device", Message: "no device open", Err: err}
		}
		d.t = t
	}
	return fn(d.t)
}

func (d *deviceSession) analysis() *model.AnalysisResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *deviceSession) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t == nil {
		return nil
	}
	err := d.t.Close()
	d.t = nil
	return err
}
