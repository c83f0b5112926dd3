package analyzer

import (
	"context"
	"strings"
	"testing"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/services/registry"
)

// imageWith 生成 size 字节镜像，并把 id 的小端字节放在 at 处（at<0 表示不放）。
func imageWith(size int, id model.Identity, at int) []byte {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	if at >= 0 {
		le := id.LittleEndian()
		copy(mem[at:], le[:])
	}
	return mem
}

func TestAnalyze_Cases(t *testing.T) {
	ctx := context.Background()
	a := New(registry.Builtin())

	tests := []struct {
		name       string
		id         model.Identity
		mem        []byte
		confidence model.Confidence
		source     string
		offset     int
		compatible bool
		reason     string
		chipset    string
	}{
		{
			name:       "ax88772b canonical",
			id:         model.Identity{VendorID: 0x0B95, ProductID: 0x772B},
			mem:        imageWith(256, model.Identity{VendorID: 0x0B95, ProductID: 0x772B}, 0x88),
			confidence: model.ConfidenceHigh,
			source:     "registry",
			offset:     0x88,
			compatible: true,
			reason:     "0x088",
			chipset:    "AX88772B",
		},
		{
			name:       "registry declared offsets",
			id:         model.Identity{VendorID: 0x2001, ProductID: 0x1A00},
			mem:        imageWith(128, model.Identity{VendorID: 0x2001, ProductID: 0x1A00}, 0x10),
			confidence: model.ConfidenceHigh,
			source:     "registry",
			offset:     0x10,
			compatible: true,
			reason:     "0x010",
			chipset:    "Unknown",
		},
		{
			name:       "unknown layout found by scan",
			id:         model.Identity{VendorID: 0x0B95, ProductID: 0x7E2B},
			mem:        imageWith(256, model.Identity{VendorID: 0x0B95, ProductID: 0x7E2B}, 0x40),
			confidence: model.ConfidenceMedium,
			source:     "scan",
			offset:     0x40,
			compatible: true,
			reason:     "medium confidence",
			chipset:    "AX88772B",
		},
		{
			name:       "identity missing",
			id:         model.Identity{VendorID: 0x0B95, ProductID: 0x772A},
			mem:        imageWith(256, model.Identity{}, -1),
			confidence: model.ConfidenceLow,
			source:     "fallback",
			offset:     0x88,
			compatible: false,
			reason:     "non-standard memory map",
			chipset:    "AX88772A",
		},
		{
			name:       "vendor outside family",
			id:         model.Identity{VendorID: 0x05AC, ProductID: 0x1402},
			mem:        imageWith(256, model.Identity{VendorID: 0x05AC, ProductID: 0x1402}, 0x88),
			confidence: model.ConfidenceHigh,
			source:     "registry",
			offset:     0x88,
			compatible: false,
			reason:     "05AC is not an ASIX-family adapter",
			chipset:    "Unknown",
		},
		{
			name:       "efuse variant",
			id:         model.Identity{VendorID: 0x0B95, ProductID: 0x178A},
			mem:        imageWith(256, model.Identity{VendorID: 0x0B95, ProductID: 0x178A}, 0x88),
			confidence: model.ConfidenceHigh,
			source:     "canonical",
			offset:     0x88,
			compatible: false,
			reason:     "eFuse",
			chipset:    "AX88179A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := transport.NewSimulated(tt.id, tt.mem)
			res, err := a.Analyze(ctx, sim)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if res.Location.Confidence != tt.confidence || res.Location.Source != tt.source || res.Location.Offsets.VIDLow != tt.offset {
				t.Fatalf("location=%+v", res.Location)
			}
			if res.Verdict.Compatible != tt.compatible || !strings.Contains(res.Verdict.Reason, tt.reason) {
				t.Fatalf("verdict=%+v", res.Verdict)
			}
			if res.ChipsetVersion != tt.chipset {
				t.Fatalf("chipset=%s want %s", res.ChipsetVersion, tt.chipset)
			}
			if res.Image.Size != len(tt.mem) {
				t.Fatalf("image size=%d want %d", res.Image.Size, len(tt.mem))
			}
		})
	}
}

func TestAnalyze_LockedOnlyForEFuseVariant(t *testing.T) {
	ctx := context.Background()
	a := New(registry.Builtin())
	locked := model.Identity{VendorID: 0x0B95, ProductID: 0x178A}
	res, err := a.Analyze(ctx, transport.NewSimulated(locked, imageWith(256, locked, 0x88)))
	if err != nil || !res.HasLockedIdentity {
		t.Fatalf("expected locked identity: %+v %v", res, err)
	}
	plain := model.Identity{VendorID: 0x0B95, ProductID: 0x1790}
	res, err = a.Analyze(ctx, transport.NewSimulated(plain, imageWith(512, plain, 0x88)))
	if err != nil || res.HasLockedIdentity {
		t.Fatalf("AX88179 should not be locked: %+v %v", res, err)
	}
}

func TestAnalyze_ClosedTransportIsConnectionError(t *testing.T) {
	sim := transport.NewSimulatedAX88772B(model.Identity{VendorID: 0x0B95, ProductID: 0x772B})
	sim.SetOpen(false)
	_, err := New(registry.Builtin()).Analyze(context.Background(), sim)
	if !fault.IsKind(err, fault.KindConnection) {
		t.Fatalf("expected connection fault, got %v", err)
	}
}

func TestAnalyze_BothSizesFail(t *testing.T) {
	id := model.Identity{VendorID: 0x1111, ProductID: 0x2222}
	sim := transport.NewSimulated(id, imageWith(128, id, 0x10))
	_, err := New(registry.Builtin()).Analyze(context.Background(), sim)
	if err == nil || !strings.Contains(err.Error(), "read eeprom image") {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "size 256") || !strings.Contains(err.Error(), "size 512") {
		t.Fatalf("both attempts should be reported: %v", err)
	}
}

func TestPreview(t *testing.T) {
	id := model.Identity{VendorID: 0x0B95, ProductID: 0x772B}
	res, err := New(registry.Builtin()).Analyze(context.Background(), transport.NewSimulatedAX88772B(id))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	p, err := Preview(res, model.Identity{VendorID: 0x2001, ProductID: 0x3C05})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.Before != "0B95:772B" || p.After != "2001:3C05" {
		t.Fatalf("before/after=%s/%s", p.Before, p.After)
	}
	want := [4]model.ByteChange{
		{Offset: 0x88, Old: 0x95, New: 0x01},
		{Offset: 0x89, Old: 0x0B, New: 0x20},
		{Offset: 0x8A, Old: 0x2B, New: 0x05},
		{Offset: 0x8B, Old: 0x77, New: 0x3C},
	}
	if p.Changes != want {
		t.Fatalf("changes=%v", p.Changes)
	}
	if _, err := Preview(nil, model.Identity{}); err == nil {
		t.Fatalf("expected error for nil analysis")
	}
}
