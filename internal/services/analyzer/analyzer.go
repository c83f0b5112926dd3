// Package analyzer 读取设备 EEPROM 镜像，定位身份字节窗口并给出兼容性判定。
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/logging"
)

// 常见镜像大小，按顺序尝试。
var commonSizes = []int{256, 512}

// 期望的厂商族：ASIX 原厂与常见的 D-Link 贴牌。
var expectedVendors = map[uint16]bool{
	0x0B95: true,
	0x2001: true,
}

// 按 PID 推导芯片版本。
var chipsetByPID = map[uint16]string{
	0x7720: "AX88772",
	0x772A: "AX88772A",
	0x772B: "AX88772B",
	0x7E2B: "AX88772B",
	0x772C: "AX88772C",
	0x1790: "AX88179",
	0x178A: "AX88179A",
	0x3C05: "AX88772",
}

// eFuseChipset 是映射表中身份被熔丝锁定的版本。
const eFuseChipset = "AX88179A"

// ChipsetVersion 返回 PID 对应的芯片版本，未映射时为 "Unknown"。
func ChipsetVersion(productID uint16) string {
	if v, ok := chipsetByPID[productID]; ok {
		return v
	}
	return "Unknown"
}

// Catalog 是分析器需要的注册表能力。
type Catalog interface {
	Lookup(vendorID, productID uint16) (*model.AdapterSpec, bool)
}

// Analyzer 分析一次 EEPROM 镜像。
type Analyzer struct {
	catalog Catalog
	log     logging.Logger
}

// Option 配置 Analyzer。
type Option func(*Analyzer)

func WithLogger(l logging.Logger) Option {
	return func(a *Analyzer) { a.log = logging.OrNop(l) }
}

func New(catalog Catalog, opts ...Option) *Analyzer {
	a := &Analyzer{catalog: catalog, log: logging.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze 读取整片镜像并定位身份窗口。
// 定位优先级：注册表偏移 → 标准偏移 → 全镜像扫描（medium）→ 标准偏移兜底（low）。
func (a *Analyzer) Analyze(ctx context.Context, t transport.Transport) (*model.AnalysisResult, error) {
	if t == nil || !t.IsOpen() {
		return nil, fault.Connection("analyze", "no device open")
	}
	device, err := t.CurrentIdentity(ctx)
	if err != nil {
		return nil, &fault.Error{Kind: fault.KindConnection, Op: "analyze", Message: "read device identity", Err: err}
	}

	var spec *model.AdapterSpec
	if a.catalog != nil {
		if s, ok := a.catalog.Lookup(device.VendorID, device.ProductID); ok {
			spec = s
		}
	}

	img, err := a.readImage(ctx, t, spec)
	if err != nil {
		return nil, err
	}

	res := &model.AnalysisResult{
		Device:         device,
		Image:          img,
		Location:       locate(img, device, spec),
		ChipsetVersion: ChipsetVersion(device.ProductID),
		Spec:           spec,
	}
	res.HasLockedIdentity = res.ChipsetVersion == eFuseChipset
	if spec != nil && spec.ChecksumOffset != nil {
		off := *spec.ChecksumOffset
		res.ChecksumOffset = &off
	}
	res.Verdict = verdict(res)

	a.log.Info("eeprom analyzed",
		"device", device.String(),
		"size", img.Size,
		"chipset", res.ChipsetVersion,
		"offset", fmt.Sprintf("0x%03X", res.Location.Offsets.VIDLow),
		"confidence", string(res.Location.Confidence),
		"compatible", res.Verdict.Compatible,
	)
	return res, nil
}

// readImage 依次尝试注册表声明的大小与常见大小，第一个成功者胜出。
func (a *Analyzer) readImage(ctx context.Context, t transport.Transport, spec *model.AdapterSpec) (model.MemoryImage, error) {
	sizes := make([]int, 0, 3)
	if spec != nil && spec.EEPROMSize > 0 {
		sizes = append(sizes, spec.EEPROMSize)
	}
	for _, s := range commonSizes {
		if len(sizes) == 0 || sizes[0] != s {
			sizes = append(sizes, s)
		}
	}

	var errs []error
	for _, size := range sizes {
		raw, err := transport.ReadRaw(ctx, t, 0, size)
		if err != nil {
			a.log.Debug("eeprom read failed", "size", size, "err", err)
			errs = append(errs, fmt.Errorf("size %d: %w", size, err))
			continue
		}
		return model.MemoryImage{Bytes: raw, Size: size}, nil
	}
	return model.MemoryImage{}, fmt.Errorf("read eeprom image: %w", errors.Join(errs...))
}

func locate(img model.MemoryImage, device model.Identity, spec *model.AdapterSpec) model.IdentityLocation {
	want := device.LittleEndian()

	if spec != nil && !spec.Offsets.IsZero() {
		if w, ok := img.Window(spec.Offsets); ok && w == want {
			return model.IdentityLocation{Offsets: spec.Offsets, Confidence: model.ConfidenceHigh, Source: "registry"}
		}
	}
	if w, ok := img.Window(model.CanonicalOffsets); ok && w == want {
		return model.IdentityLocation{Offsets: model.CanonicalOffsets, Confidence: model.ConfidenceHigh, Source: "canonical"}
	}
	if i := bytes.Index(img.Bytes, want[:]); i >= 0 {
		return model.IdentityLocation{
			Offsets:    model.IdentityOffsets{VIDLow: i, VIDHigh: i + 1, PIDLow: i + 2, PIDHigh: i + 3},
			Confidence: model.ConfidenceMedium,
			Source:     "scan",
		}
	}
	return model.IdentityLocation{Offsets: model.CanonicalOffsets, Confidence: model.ConfidenceLow, Source: "fallback"}
}

// verdict 判定顺序：eFuse → 低可信度 → 厂商族不匹配 → 通过。
func verdict(res *model.AnalysisResult) model.Verdict {
	if res.HasLockedIdentity || (res.Spec != nil && res.Spec.Tech.IsEFuse()) {
		return model.Verdict{
			Reason:          "identity is stored in eFuse and cannot be rewritten",
			Recommendations: []string{"use an adapter with an external EEPROM"},
		}
	}
	if res.Location.Confidence == model.ConfidenceLow {
		return model.Verdict{
			Reason:          "non-standard memory map: identity bytes not found in EEPROM image",
			Recommendations: []string{"run diagnostics", "add the adapter layout to the catalog"},
		}
	}
	if !expectedVendors[res.Device.VendorID] {
		return model.Verdict{
			Reason:          fmt.Sprintf("vendor %04X is not an ASIX-family adapter", res.Device.VendorID),
			Recommendations: []string{"use an ASIX-based adapter"},
		}
	}

	reason := fmt.Sprintf("identity located at 0x%03X (%s confidence)", res.Location.Offsets.VIDLow, res.Location.Confidence)
	v := model.Verdict{
		Compatible:      true,
		Reason:          reason,
		Recommendations: []string{"create and verify a backup before writing"},
	}
	if res.Location.Confidence == model.ConfidenceMedium {
		v.Warnings = append(v.Warnings, "identity found by scan; layout differs from the canonical map")
	}
	if res.Spec == nil {
		v.Warnings = append(v.Warnings, "adapter is not in the compatibility registry")
	} else {
		v.Warnings = append(v.Warnings, res.Spec.Quirks...)
	}
	if res.ChipsetVersion == "Unknown" {
		v.Warnings = append(v.Warnings, "chipset version unknown")
	}
	return v
}
