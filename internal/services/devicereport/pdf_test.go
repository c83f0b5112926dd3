package devicereport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
	"eeprom-spoofer/internal/services/analyzer"
	"eeprom-spoofer/internal/services/backupstore"
	"eeprom-spoofer/internal/services/diagnostics"
	"eeprom-spoofer/internal/services/registry"
)

func TestGenerate_CreatesReportAndFile(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	db, err := sqliteadapter.Open(ctx, filepath.Join(tmp, "eeprom.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	store := sqliteadapter.NewStore(db)

	dev := model.Identity{VendorID: 0x0B95, ProductID: 0x772B}
	sim := transport.NewSimulatedAX88772B(dev)
	reg := registry.Builtin()
	analysis, err := analyzer.New(reg).Analyze(ctx, sim)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	backups := backupstore.New(store, filepath.Join(tmp, "backups"))
	if _, err := backups.CreateBackup(ctx, sim, model.DeviceInfo{Identity: dev}); err != nil {
		t.Fatalf("backup: %v", err)
	}
	list, err := backups.ListWithIntegrity(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	diag := diagnostics.New().Diagnose(ctx, sim)

	res, err := Generate(ctx, store, Input{
		Device:    dev,
		Analysis:  analysis,
		Diagnosis: &diag,
		Recovery:  diagnostics.RecoveryMethods(analysis.Spec),
		Backups:   list,
	}, Options{ReportDir: filepath.Join(tmp, "reports"), Operator: "tester", Note: "bench"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	st, err := os.Stat(res.PDFPath)
	if err != nil || st.Size() == 0 {
		t.Fatalf("pdf missing or empty: %v", err)
	}
	sum, _, err := hash.File(res.PDFPath)
	if err != nil || sum != res.PDFSHA256 {
		t.Fatalf("sha256 mismatch: %s vs %s (%v)", sum, res.PDFSHA256, err)
	}

	info, err := store.GetReportByID(ctx, res.ReportID)
	if err != nil || info == nil {
		t.Fatalf("report not registered: %v", err)
	}
	if info.ReportType != ReportType || info.SHA256 != res.PDFSHA256 {
		t.Fatalf("report row: %+v", info)
	}

	logs, err := store.ListAuditLogs(ctx, "", 0)
	if err != nil {
		t.Fatalf("audits: %v", err)
	}
	found := false
	for _, l := range logs {
		if l.Action == ReportType && l.DeviceKey == dev.String() {
			found = true
		}
	}
	if !found {
		t.Fatalf("no audit entry for report")
	}
}

func TestGenerate_RequiresDevice(t *testing.T) {
	if _, err := Generate(context.Background(), nil, Input{}, Options{ReportDir: t.TempDir()}); err == nil {
		t.Fatalf("expected error for empty device")
	}
}

func TestGenerate_RejectsUnknownPrivacyMode(t *testing.T) {
	in := Input{Device: model.Identity{VendorID: 0x0B95, ProductID: 0x772B}}
	if _, err := Generate(context.Background(), nil, in, Options{ReportDir: t.TempDir(), PrivacyMode: "partial"}); err == nil {
		t.Fatalf("expected error for unknown privacy mode")
	}
}
