package privacy

import (
	"testing"

	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/services/backupstore"
)

func TestMaskPath(t *testing.T) {
	got := MaskPath("/home/alice/eeprom/data/backups/bak_1.bin")
	if got != "bak_1.bin" {
		t.Fatalf("got=%q want=%q", got, "bak_1.bin")
	}
	if MaskPath("  ") != "" {
		t.Fatalf("empty path should stay empty")
	}
}

func TestMaskSerial(t *testing.T) {
	if got := MaskSerial("000ECC123456"); got != "********3456" {
		t.Fatalf("got=%q", got)
	}
	if got := MaskSerial("12"); got != "<masked>" {
		t.Fatalf("short serial: %q", got)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]string{"": ModeOff, "OFF": ModeOff, " masked ": ModeMasked} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("partial"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestMaskBackupsKeepsIntegrity(t *testing.T) {
	b := model.Backup{
		ID:            "bak_1",
		SchemaVersion: model.BackupSchemaCurrent,
		SerialNumber:  "000ECC123456",
		FilePath:      "/srv/data/backups/bak_1.bin",
		HexPayload:    "0011",
		DeclaredSize:  2,
	}
	b.MD5 = backupstore.VerifyIntegrity(b).CalculatedMD5
	b.SHA256 = backupstore.VerifyIntegrity(b).CalculatedSHA256

	out := MaskBackups([]model.BackupWithIntegrity{{Backup: b}})
	got := out[0].Backup
	if got.SerialNumber == b.SerialNumber || got.FilePath != "bak_1.bin" {
		t.Fatalf("not masked: %+v", got)
	}
	if check := backupstore.VerifyIntegrity(got); check.Status != model.IntegrityValid {
		t.Fatalf("masked copy should still verify: %+v", check)
	}
	if b.SerialNumber != "000ECC123456" {
		t.Fatalf("original modified")
	}
}
