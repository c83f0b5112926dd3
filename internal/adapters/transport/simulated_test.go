package transport

import (
	"context"
	"errors"
	"testing"

	"eeprom-spoofer/internal/domain/model"
)

func TestSimulated_ReadWriteAndLog(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedAX88772B(model.Identity{VendorID: 0x0B95, ProductID: 0x772B})

	raw, err := ReadRaw(ctx, sim, 0x88, 4)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	if raw[0] != 0x95 || raw[1] != 0x0B || raw[2] != 0x2B || raw[3] != 0x77 {
		t.Fatalf("unexpected identity window: % X", raw)
	}

	res, err := sim.WriteByteAt(ctx, 0x88, 0x01, false)
	if err != nil {
		t.Fatalf("WriteByteAt: %v", err)
	}
	if res.BytesWritten != 1 || !res.Verified {
		t.Fatalf("unexpected write result: %+v", res)
	}
	b, err := ReadByte(ctx, sim, 0x88)
	if err != nil || b != 0x01 {
		t.Fatalf("ReadByte = %02X, %v", b, err)
	}
	if got := len(sim.Writes()); got != 1 {
		t.Fatalf("writes=%d, want 1", got)
	}
}

func TestSimulated_FaultInjection(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulatedAX88772B(model.Identity{VendorID: 0x0B95, ProductID: 0x772B})

	sim.OverrideReadOnce(0x10, 0xEE)
	if b, _ := ReadByte(ctx, sim, 0x10); b != 0xEE {
		t.Fatalf("override not applied: %02X", b)
	}
	if b, _ := ReadByte(ctx, sim, 0x10); b == 0xEE {
		t.Fatalf("override should be one-shot")
	}

	boom := errors.New("stall")
	sim.FailWriteAt(0x20, boom)
	if _, err := sim.WriteByteAt(ctx, 0x20, 0, true); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	sim.LimitReads(128)
	if _, _, err := sim.DumpAll(ctx); err != nil {
		t.Fatalf("DumpAll within limit: %v", err)
	}
	if _, err := sim.ReadBytes(ctx, 0, 256); err == nil {
		t.Fatalf("expected read beyond limit to fail")
	}

	if _, err := sim.SendVendorCommand(ctx, ReqReadSROM, 0x44, 0); err != nil {
		t.Fatalf("vendor read: %v", err)
	}
	sim.KillVendorCommands()
	if _, err := sim.SendVendorCommand(ctx, ReqReadSROM, 0x44, 0); err == nil {
		t.Fatalf("expected dead vendor commands to fail")
	}

	sim.SetOpen(false)
	if _, err := sim.ReadBytes(ctx, 0, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := sim.CurrentIdentity(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from CurrentIdentity, got %v", err)
	}
}
