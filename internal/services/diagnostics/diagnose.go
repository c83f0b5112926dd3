// Package diagnostics 探测设备健康度，并在改写路径不可用时给出恢复手段。
package diagnostics

import (
	"context"
	"fmt"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/logging"
	"eeprom-spoofer/internal/platform/metrics"
)

// fallbackSize 是未登记设备的自检容量假设：最小的受支持芯片 93C46。
const fallbackSize = 128

// sromEchoLen 是读 SROM 字请求应答的字节数。
const sromEchoLen = 2

// Catalog 提供设备容量与身份窗口，用于挑选自检字节。
type Catalog interface {
	Lookup(vendorID, productID uint16) (*model.AdapterSpec, bool)
}

// Diagnostics 按固定顺序执行 5 个探针。
type Diagnostics struct {
	catalog Catalog
	log     logging.Logger
	metrics *metrics.Collector
}

type Option func(*Diagnostics)

// WithCatalog 让自检按已登记的芯片容量选字节。
func WithCatalog(c Catalog) Option {
	return func(d *Diagnostics) { d.catalog = c }
}

func WithLogger(l logging.Logger) Option {
	return func(d *Diagnostics) { d.log = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(d *Diagnostics) { d.metrics = m }
}

func New(opts ...Option) *Diagnostics {
	d := &Diagnostics{}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.OrNop(d.log)
	return d
}

// Diagnose 依次探测：设备在线、描述符、内存读、写回自检、厂商命令。
// 任一探针失败即停止，后续探针保持 false。
//
// 写回自检只把读到的值原样写回，不改变设备内容。
func (d *Diagnostics) Diagnose(ctx context.Context, t transport.Transport) model.DiagnosticResult {
	res := d.probe(ctx, t)
	res.Diagnosis = aggregate(res)
	res.Recommendations = recommendations(res)
	d.metrics.Diagnosed(string(res.Diagnosis))
	d.log.Info("diagnose", "device", res.Device.String(), "diagnosis", string(res.Diagnosis), "issues", len(res.Issues))
	return res
}

func (d *Diagnostics) probe(ctx context.Context, t transport.Transport) model.DiagnosticResult {
	res := model.DiagnosticResult{}
	if t == nil || !t.IsOpen() {
		res.Issues = append(res.Issues, "no adapter detected")
		return res
	}
	res.DeviceDetected = true

	ident, err := t.CurrentIdentity(ctx)
	if err != nil || ident.IsZero() {
		res.Issues = append(res.Issues, issue("USB descriptors unreadable", err))
		return res
	}
	res.Device = ident
	res.DescriptorsReadable = true

	off := d.selfTestOffset(ident)
	orig, err := transport.ReadByte(ctx, t, off)
	if err != nil {
		res.Issues = append(res.Issues, issue("EEPROM read failed", err))
		return res
	}
	res.MemoryReadable = true

	if err := writeBack(ctx, t, off, orig); err != nil {
		res.Issues = append(res.Issues, issue("EEPROM write-back self-test failed", err))
		return res
	}
	res.MemoryWritable = true

	reply, err := t.SendVendorCommand(ctx, transport.ReqReadSROM, 0, 0)
	if err == nil && len(reply) != sromEchoLen {
		err = fmt.Errorf("SROM word reply has %d bytes, want %d", len(reply), sromEchoLen)
	}
	if err != nil {
		res.Issues = append(res.Issues, issue("vendor commands not responding", err))
		return res
	}
	res.VendorCommandsResponsive = true
	return res
}

// selfTestOffset 取芯片末端第一个不属于身份、校验和或 MAC 字段的字节。
func (d *Diagnostics) selfTestOffset(ident model.Identity) int {
	var spec *model.AdapterSpec
	if d.catalog != nil {
		spec, _ = d.catalog.Lookup(ident.VendorID, ident.ProductID)
	}
	return SelfTestOffset(spec)
}

// SelfTestOffset 返回 spec 对应芯片上的写回自检字节；spec 为空时按 93C46 处理。
func SelfTestOffset(spec *model.AdapterSpec) int {
	size := fallbackSize
	reserved := map[int]bool{}
	for _, off := range model.CanonicalOffsets.Slice() {
		reserved[off] = true
	}
	if spec != nil {
		if spec.EEPROMSize > 0 {
			size = spec.EEPROMSize
		}
		for _, off := range spec.Offsets.Slice() {
			reserved[off] = true
		}
		if c := spec.ChecksumOffset; c != nil {
			reserved[*c], reserved[*c+1] = true, true
		}
		if m := spec.MACOffset; m != nil {
			for i := 0; i < 6; i++ {
				reserved[*m+i] = true
			}
		}
	}
	off := size - 1
	for off > 0 && reserved[off] {
		off--
	}
	return off
}

func writeBack(ctx context.Context, t transport.Transport, off int, orig byte) error {
	if _, err := t.WriteByteAt(ctx, off, orig, true); err != nil {
		return err
	}
	got, err := transport.ReadByte(ctx, t, off)
	if err != nil {
		return err
	}
	if got != orig {
		return fmt.Errorf("read back %02X after writing %02X", got, orig)
	}
	return nil
}

func issue(msg string, err error) string {
	if err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, err)
}

// aggregate 把探针结果归并为一个结论。
// 写回之后的厂商命令失败也算 degraded：内存仍可读写。
func aggregate(r model.DiagnosticResult) model.Diagnosis {
	switch {
	case !r.DeviceDetected:
		return model.DiagnosisUnknown
	case !r.DescriptorsReadable, !r.MemoryReadable:
		return model.DiagnosisBricked
	case !r.MemoryWritable, !r.VendorCommandsResponsive:
		return model.DiagnosisDegraded
	default:
		return model.DiagnosisHealthy
	}
}

func recommendations(r model.DiagnosticResult) []string {
	switch r.Diagnosis {
	case model.DiagnosisHealthy:
		return []string{"adapter responds normally; analyze before writing"}
	case model.DiagnosisDegraded:
		if !r.MemoryWritable {
			return []string{
				"EEPROM is read-only or write-protected; do not attempt a spoof",
				"restore the identity from a verified backup only after the write path works again",
			}
		}
		return []string{"vendor control requests failed; replug the adapter and diagnose again"}
	case model.DiagnosisBricked:
		return []string{
			"try the recovery methods in order, starting with a soft reset",
			"keep the latest verified backup available for identity restore",
		}
	default:
		return []string{"connect the adapter directly (no hub) and open it again"}
	}
}
