package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/metrics"
	"eeprom-spoofer/internal/services/registry"
)

var ax88772b = model.Identity{VendorID: 0x0B95, ProductID: 0x772B}

// ax88772bSelfTest 是 256 字节 93C56 的末字节。
const ax88772bSelfTest = 0xFF

func newDiagnostics(opts ...Option) *Diagnostics {
	return New(append([]Option{WithCatalog(registry.Builtin())}, opts...)...)
}

func TestDiagnose_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(s *transport.Simulated)
		want     model.Diagnosis
		writable bool
		vendor   bool
	}{
		{"healthy", func(*transport.Simulated) {}, model.DiagnosisHealthy, true, true},
		{"not present", func(s *transport.Simulated) { s.SetOpen(false) }, model.DiagnosisUnknown, false, false},
		{"descriptors broken", func(s *transport.Simulated) { s.BreakDescriptors() }, model.DiagnosisBricked, false, false},
		{"memory unreadable", func(s *transport.Simulated) { s.BreakReads() }, model.DiagnosisBricked, false, false},
		{"write-back fails", func(s *transport.Simulated) { s.FailWriteAt(ax88772bSelfTest, errors.New("write protect")) }, model.DiagnosisDegraded, false, false},
		{"vendor commands dead", func(s *transport.Simulated) { s.KillVendorCommands() }, model.DiagnosisDegraded, true, false},
		{"vendor reply empty", func(s *transport.Simulated) { s.MuteVendorCommands() }, model.DiagnosisDegraded, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := transport.NewSimulatedAX88772B(ax88772b)
			tt.setup(sim)
			res := newDiagnostics().Diagnose(context.Background(), sim)
			if res.Diagnosis != tt.want {
				t.Fatalf("Diagnosis = %s, want %s (issues %v)", res.Diagnosis, tt.want, res.Issues)
			}
			if res.MemoryWritable != tt.writable || res.VendorCommandsResponsive != tt.vendor {
				t.Fatalf("probe flags: %+v", res)
			}
			if tt.want != model.DiagnosisHealthy && len(res.Issues) == 0 {
				t.Fatalf("expected an issue for %s", tt.name)
			}
			if len(res.Recommendations) == 0 {
				t.Fatalf("expected recommendations")
			}
		})
	}
}

func TestDiagnose_WriteBackIsNonDestructive(t *testing.T) {
	sim := transport.NewSimulatedAX88772B(ax88772b)
	before := sim.Memory()
	res := newDiagnostics().Diagnose(context.Background(), sim)
	if res.Diagnosis != model.DiagnosisHealthy || res.Device != ax88772b {
		t.Fatalf("unexpected result: %+v", res)
	}
	writes := sim.Writes()
	if len(writes) != 1 || writes[0].Offset != ax88772bSelfTest || writes[0].Value != before[ax88772bSelfTest] {
		t.Fatalf("self-test writes: %+v", writes)
	}
	if !bytes.Equal(sim.Memory(), before) {
		t.Fatalf("diagnose changed device memory")
	}
}

func TestDiagnose_SmallPartUsesItsLastByte(t *testing.T) {
	dub := model.Identity{VendorID: 0x2001, ProductID: 0x1A00}
	mem := make([]byte, 128)
	for i := range mem {
		mem[i] = byte(i)
	}
	sim := transport.NewSimulated(dub, mem)

	res := newDiagnostics().Diagnose(context.Background(), sim)
	if res.Diagnosis != model.DiagnosisHealthy {
		t.Fatalf("Diagnosis = %s, want healthy (issues %v)", res.Diagnosis, res.Issues)
	}
	writes := sim.Writes()
	if len(writes) != 1 || writes[0].Offset != 0x7F {
		t.Fatalf("self-test writes: %+v", writes)
	}
}

func TestDiagnose_UnknownDeviceStaysInsideSmallestPart(t *testing.T) {
	sim := transport.NewSimulated(model.Identity{VendorID: 0x1234, ProductID: 0x5678}, make([]byte, 128))
	res := New().Diagnose(context.Background(), sim)
	if res.Diagnosis != model.DiagnosisHealthy {
		t.Fatalf("Diagnosis = %s (issues %v)", res.Diagnosis, res.Issues)
	}
}

func TestSelfTestOffset_SkipsReservedFields(t *testing.T) {
	cs := 0xFE
	spec := &model.AdapterSpec{
		EEPROMSize:     256,
		Offsets:        model.IdentityOffsets{VIDLow: 0xFD, VIDHigh: 0xFC, PIDLow: 0x10, PIDHigh: 0x11},
		ChecksumOffset: &cs,
	}
	if got := SelfTestOffset(spec); got != 0xFB {
		t.Fatalf("SelfTestOffset = 0x%X, want 0xFB", got)
	}
	if got := SelfTestOffset(nil); got != 0x7F {
		t.Fatalf("SelfTestOffset(nil) = 0x%X, want 0x7F", got)
	}
}

func TestDiagnose_ShortCircuits(t *testing.T) {
	sim := transport.NewSimulatedAX88772B(ax88772b)
	sim.BreakReads()
	newDiagnostics().Diagnose(context.Background(), sim)
	if n := len(sim.Writes()); n != 0 {
		t.Fatalf("write-back ran after read failure (%d writes)", n)
	}
}

func TestDiagnose_RecordsMetric(t *testing.T) {
	m := metrics.New()
	newDiagnostics(WithMetrics(m)).Diagnose(context.Background(), transport.NewSimulatedAX88772B(ax88772b))
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "eeprom_spoofer_diagnoses_total" {
			return
		}
	}
	t.Fatalf("diagnoses metric not exported")
}

func TestRecoveryMethods(t *testing.T) {
	base := RecoveryMethods(nil)
	if len(base) != 4 {
		t.Fatalf("catalog size = %d", len(base))
	}
	order := []model.Difficulty{model.DifficultyEasy, model.DifficultyModerate, model.DifficultyHard, model.DifficultyExpert}
	for i, m := range base {
		if m.Difficulty != order[i] || len(m.Steps) == 0 || m.SuccessRate <= 0 {
			t.Fatalf("method %d: %+v", i, m)
		}
		if i > 0 && m.SuccessRate < base[i-1].SuccessRate {
			t.Fatalf("success rates should grow with invasiveness")
		}
	}
	if base[0].RequiresHardware || !base[3].RequiresHardware {
		t.Fatalf("hardware flags wrong")
	}

	spec, ok := registry.Builtin().Lookup(0x0B95, 0x772B)
	if !ok || len(spec.RecoveryNotes) == 0 {
		t.Fatalf("fixture needs recovery notes")
	}
	withNotes := RecoveryMethods(spec)
	if len(withNotes) != 4+len(spec.RecoveryNotes) {
		t.Fatalf("notes not appended: %d", len(withNotes))
	}
	extra := withNotes[4]
	if extra.Difficulty != model.DifficultyEasy || extra.RequiresHardware || extra.Steps[0] != spec.RecoveryNotes[0] {
		t.Fatalf("note entry: %+v", extra)
	}
}
