package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"eeprom-spoofer/internal/domain/model"
)

func openTestDB(t *testing.T) *Store {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "eeprom.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestMigrator_Idempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "eeprom.db")
	for i := 0; i < 2; i++ {
		db, err := Open(ctx, dbPath)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		v, err := NewStore(db).GetSchemaMetaValue(ctx, "db_schema_version")
		_ = db.Close()
		if err != nil || v != "2" {
			t.Fatalf("db_schema_version=%q err=%v", v, err)
		}
	}
}

func TestMigrator_LedgerRecordsEachScriptOnce(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "eeprom.db")
	for i := 0; i < 2; i++ {
		db, err := Open(ctx, dbPath)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		_ = db.Close()
	}
	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	status, err := NewMigrator(db).Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != 2 || status[0].Version != 1 || status[1].Version != 2 {
		t.Fatalf("status=%+v", status)
	}
	for _, st := range status {
		if !st.Applied || st.AppliedAt == 0 || len(st.Checksum) != 64 {
			t.Fatalf("not recorded: %+v", st)
		}
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("ledger rows=%d err=%v", n, err)
	}
}

func TestMigrator_RejectsEditedScript(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "eeprom.db")
	db, err := Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.ExecContext(ctx, `UPDATE schema_migrations SET checksum = 'stale' WHERE version = 1`); err != nil {
		t.Fatalf("update ledger: %v", err)
	}
	err = NewMigrator(db).Up(ctx)
	_ = db.Close()
	if err == nil || !strings.Contains(err.Error(), "changed after being applied") {
		t.Fatalf("expected checksum drift error, got %v", err)
	}
}

func TestBackups_InsertGetListAndDigests(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	legacy := model.Backup{
		ID:            "bak_1",
		SchemaVersion: model.BackupSchemaLegacy,
		CreatedAt:     time.Now().Unix() - 10,
		VendorID:      0x0B95,
		ProductID:     0x772B,
		HexPayload:    "00ff",
		DeclaredSize:  2,
		MD5:           "abc",
		Status:        model.IntegrityValid,
	}
	current := legacy
	current.ID = "bak_2"
	current.SchemaVersion = model.BackupSchemaCurrent
	current.CreatedAt = legacy.CreatedAt + 5
	current.SHA256 = "def"
	current.Chipset = "AX88772B"

	for _, b := range []model.Backup{legacy, current} {
		if err := s.InsertBackup(ctx, b); err != nil {
			t.Fatalf("insert %s: %v", b.ID, err)
		}
	}

	got, err := s.GetBackup(ctx, "bak_2")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Identity().String() != "0B95:772B" || got.Chipset != "AX88772B" || got.SHA256 != "def" {
		t.Fatalf("unexpected backup: %+v", got)
	}
	if missing, err := s.GetBackup(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("missing backup: %v %v", missing, err)
	}

	all, err := s.ListBackups(ctx)
	if err != nil || len(all) != 2 || all[0].ID != "bak_2" {
		t.Fatalf("list: %+v %v", all, err)
	}

	legacyList, err := s.ListLegacyBackups(ctx, model.BackupSchemaCurrent)
	if err != nil || len(legacyList) != 1 || legacyList[0].ID != "bak_1" {
		t.Fatalf("legacy list: %+v %v", legacyList, err)
	}

	if err := s.UpdateBackupDigests(ctx, "bak_1", "", "sha", model.BackupSchemaCurrent); err != nil {
		t.Fatalf("update digests: %v", err)
	}
	got, _ = s.GetBackup(ctx, "bak_1")
	if got.MD5 != "abc" || got.SHA256 != "sha" || got.SchemaVersion != model.BackupSchemaCurrent {
		t.Fatalf("digests not updated: %+v", got)
	}
	if err := s.UpdateBackupDigests(ctx, "nope", "", "", 2); err == nil {
		t.Fatalf("expected error for unknown backup")
	}
}

func TestAppendAudit_ChainsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	if err := s.AppendAudit(ctx, "s1", "0B95:772B", "spoof", "start", "started", "tester", "test", map[string]any{"k": 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendAudit(ctx, "s2", "", "backup", "create", "success", "tester", "test", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	logs, err := s.ListAuditLogs(ctx, "", 0)
	if err != nil || len(logs) != 2 {
		t.Fatalf("list: %v %v", logs, err)
	}
	if logs[0].ChainPrevHash != "" || logs[1].ChainPrevHash != logs[0].ChainHash {
		t.Fatalf("chain not linked: %+v", logs)
	}
	want := AuditChainHash(logs[0].ChainHash, "s2", "", "backup", "create", "success", logs[1].OccurredAt, "{}")
	if logs[1].ChainHash != want {
		t.Fatalf("chain hash mismatch")
	}

	only, err := s.ListAuditLogs(ctx, "s1", 0)
	if err != nil || len(only) != 1 || only[0].DeviceKey != "0B95:772B" {
		t.Fatalf("session filter: %+v %v", only, err)
	}
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)
	rid, err := s.SaveReport(ctx, "device_pdf", "/tmp/r.pdf", "aa", "dev", "ready")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	r, err := s.GetReportByID(ctx, rid)
	if err != nil || r == nil || r.FilePath != "/tmp/r.pdf" {
		t.Fatalf("get: %+v %v", r, err)
	}
	list, err := s.ListReports(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %+v %v", list, err)
	}
}
