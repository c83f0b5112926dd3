package backupstore

import (
	"context"
	"encoding/hex"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eeprom-spoofer/internal/adapters/transport"
	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
)

func newTestStore(t *testing.T) (*Store, *sqliteadapter.Store, string) {
	t.Helper()
	tmp := t.TempDir()
	db, err := sqliteadapter.Open(context.Background(), filepath.Join(tmp, "eeprom.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := sqliteadapter.NewStore(db)
	dir := filepath.Join(tmp, "backups")
	return New(repo, dir, WithActor("tester", "test")), repo, dir
}

func backupOf(payload string) model.Backup {
	return model.Backup{
		ID:            "bak_test",
		SchemaVersion: model.BackupSchemaCurrent,
		CreatedAt:     time.Now().Unix(),
		VendorID:      0x0B95,
		ProductID:     0x772B,
		HexPayload:    payload,
		DeclaredSize:  len(payload) / 2,
		MD5:           hash.MD5Hex(payload),
		SHA256:        hash.SHA256Hex(payload),
		Status:        model.IntegrityValid,
	}
}

func randomPayload(r *rand.Rand, size int) string {
	buf := make([]byte, size)
	r.Read(buf)
	return hex.EncodeToString(buf)
}

func TestVerifyIntegrity_MatchingDigestsAreValid(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 64; i++ {
		b := backupOf(randomPayload(r, 1+r.Intn(512)))
		res := VerifyIntegrity(b)
		if res.Status != model.IntegrityValid || !res.SizeValid || !res.FormatValid || !res.MD5Valid || !res.SHA256Valid {
			t.Fatalf("iteration %d: expected valid, got %+v", i, res)
		}
	}
}

func TestVerifyIntegrity_SingleCharFlipIsInvalid(t *testing.T) {
	const digits = "0123456789abcdef"
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 64; i++ {
		b := backupOf(randomPayload(r, 16+r.Intn(256)))
		raw := []byte(b.HexPayload)
		pos := r.Intn(len(raw))
		for {
			c := digits[r.Intn(len(digits))]
			if c != raw[pos] {
				raw[pos] = c
				break
			}
		}
		b.HexPayload = string(raw)

		res := VerifyIntegrity(b)
		if res.Status != model.IntegrityInvalid {
			t.Fatalf("iteration %d: status=%s, want invalid", i, res.Status)
		}
		if res.MD5Valid && res.SHA256Valid {
			t.Fatalf("iteration %d: a digest check should fail", i)
		}
	}
}

func TestVerifyIntegrity_StatusRules(t *testing.T) {
	payload := randomPayload(rand.New(rand.NewSource(3)), 128)
	tests := []struct {
		name   string
		mutate func(b *model.Backup)
		want   model.IntegrityStatus
	}{
		{"size mismatch", func(b *model.Backup) { b.DeclaredSize = 256 }, model.IntegrityCorrupted},
		{"non hex", func(b *model.Backup) { b.HexPayload = "zz" + b.HexPayload[2:] }, model.IntegrityCorrupted},
		{"odd length", func(b *model.Backup) { b.HexPayload = b.HexPayload[:len(b.HexPayload)-1] }, model.IntegrityCorrupted},
		{"no digests", func(b *model.Backup) { b.MD5, b.SHA256 = "", "" }, model.IntegrityUnknown},
		{"legacy md5 only", func(b *model.Backup) { b.SHA256 = "" }, model.IntegrityValid},
		{"sha only", func(b *model.Backup) { b.MD5 = "" }, model.IntegrityValid},
		{"md5 only but wrong", func(b *model.Backup) { b.SHA256 = ""; b.MD5 = hash.MD5Hex("other") }, model.IntegrityInvalid},
		{"uppercase stored digest", func(b *model.Backup) { b.MD5 = upper(b.MD5) }, model.IntegrityValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := backupOf(payload)
			tt.mutate(&b)
			if got := VerifyIntegrity(b).Status; got != tt.want {
				t.Fatalf("status=%s, want %s", got, tt.want)
			}
		})
	}
}

func upper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - 'a' + 'A'
		}
	}
	return string(out)
}

func TestExtractIdentity(t *testing.T) {
	mem := make([]byte, 256)
	mem[0x88], mem[0x89], mem[0x8A], mem[0x8B] = 0x01, 0x20, 0x05, 0x3C
	id, err := ExtractIdentity(backupOf(hex.EncodeToString(mem)))
	if err != nil {
		t.Fatalf("ExtractIdentity: %v", err)
	}
	if id.VendorID != 0x2001 || id.ProductID != 0x3C05 {
		t.Fatalf("identity=%s, want 2001:3C05", id)
	}
	if _, err := ExtractIdentity(backupOf("0011")); err == nil {
		t.Fatalf("expected error for short payload")
	}
}

func TestCreateBackup_PersistsRecordAndBinary(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore(t)
	sim := transport.NewSimulatedAX88772B(model.Identity{VendorID: 0x0B95, ProductID: 0x772B})

	b, err := s.CreateBackup(ctx, sim, model.DeviceInfo{Name: "bench adapter", Chipset: "AX88772B"})
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if b.Status != model.IntegrityValid || b.DeclaredSize != 256 || len(b.HexPayload) != 512 {
		t.Fatalf("unexpected backup: %+v", b)
	}
	if b.Identity().String() != "0B95:772B" {
		t.Fatalf("identity not taken from device: %s", b.Identity())
	}
	raw, err := ReadBinaryCopy(*b)
	if err != nil || len(raw) != 256 {
		t.Fatalf("binary copy: %d %v", len(raw), err)
	}
	stored, err := repo.GetBackup(ctx, b.ID)
	if err != nil || stored == nil || stored.SHA256 != b.SHA256 {
		t.Fatalf("stored record: %+v %v", stored, err)
	}
	if len(sim.Writes()) != 0 {
		t.Fatalf("backup must not write to the device")
	}
}

// truncatingDump 模拟转储丢字节的传输层。
type truncatingDump struct {
	*transport.Simulated
}

func (d truncatingDump) DumpAll(ctx context.Context) (string, int, error) {
	h, size, err := d.Simulated.DumpAll(ctx)
	if err != nil {
		return "", 0, err
	}
	return h[:len(h)-4], size, nil
}

func TestCreateBackup_RejectsShortDump(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore(t)
	sim := transport.NewSimulatedAX88772B(model.Identity{VendorID: 0x0B95, ProductID: 0x772B})

	_, err := s.CreateBackup(ctx, truncatingDump{sim}, model.DeviceInfo{})
	if !fault.IsKind(err, fault.KindConnection) {
		t.Fatalf("expected connection fault for 254/256 byte dump, got %v", err)
	}
	list, err := repo.ListBackups(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("short dump must not be stored: %d %v", len(list), err)
	}

	_, err = s.SaveSnapshot(ctx, model.DeviceInfo{}, model.MemoryImage{Bytes: []byte{1, 2}, Size: 4})
	if err == nil {
		t.Fatalf("expected error for image shorter than its declared size")
	}
}

func TestSaveSnapshot_StorageFailure(t *testing.T) {
	ctx := context.Background()
	_, repo, _ := newTestStore(t)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := New(repo, filepath.Join(blocker, "sub"))
	_, err := s.SaveSnapshot(ctx, model.DeviceInfo{}, model.MemoryImage{Bytes: []byte{1, 2}, Size: 2})
	if !fault.IsKind(err, fault.KindStorage) {
		t.Fatalf("expected storage fault, got %v", err)
	}
}

func TestRestoreIdentityOnly_BlockedWhenNotValid(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore(t)

	mem := make([]byte, 256)
	mem[0x88], mem[0x89], mem[0x8A], mem[0x8B] = 0x95, 0x0B, 0x2B, 0x77
	tampered := backupOf(hex.EncodeToString(mem))
	tampered.ID = "bak_tampered"
	tampered.HexPayload = "ff" + tampered.HexPayload[2:]
	corrupted := backupOf(hex.EncodeToString(mem))
	corrupted.ID = "bak_corrupted"
	corrupted.DeclaredSize = 512
	unknown := backupOf(hex.EncodeToString(mem))
	unknown.ID = "bak_unknown"
	unknown.MD5, unknown.SHA256 = "", ""

	for _, b := range []model.Backup{tampered, corrupted, unknown} {
		if err := repo.InsertBackup(ctx, b); err != nil {
			t.Fatalf("insert: %v", err)
		}
		sim := transport.NewSimulatedAX88772B(model.Identity{VendorID: 0x2001, ProductID: 0x3C05})
		_, err := s.RestoreIdentityOnly(ctx, sim, b.ID)
		if !fault.IsKind(err, fault.KindIntegrity) {
			t.Fatalf("%s: expected integrity fault, got %v", b.ID, err)
		}
		if n := len(sim.Writes()); n != 0 {
			t.Fatalf("%s: %d transport writes issued, want 0", b.ID, n)
		}
	}
}

func TestRestoreIdentityOnly_WritesFourBytesAndVerifies(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	original := model.Identity{VendorID: 0x0B95, ProductID: 0x772B}
	sim := transport.NewSimulatedAX88772B(original)
	b, err := s.CreateBackup(ctx, sim, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	// 模拟一次改写后的设备：身份窗口变成 2001:3C05，其余字节与备份一致。
	spoofed := model.Identity{VendorID: 0x2001, ProductID: 0x3C05}.LittleEndian()
	for i, off := range model.CanonicalOffsets.Slice() {
		if _, err := sim.WriteByteAt(ctx, off, spoofed[i], true); err != nil {
			t.Fatalf("prepare: %v", err)
		}
	}
	before := len(sim.Writes())

	res, err := s.RestoreIdentityOnly(ctx, sim, b.ID)
	if err != nil {
		t.Fatalf("RestoreIdentityOnly: %v", err)
	}
	if !res.Verified || res.Identity != original || len(res.Changes) != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
	writes := sim.Writes()[before:]
	if len(writes) != 4 {
		t.Fatalf("writes=%d, want exactly 4", len(writes))
	}
	for i, off := range model.CanonicalOffsets.Slice() {
		if writes[i].Offset != off {
			t.Fatalf("write %d at 0x%03X, want 0x%03X", i, writes[i].Offset, off)
		}
	}
	after := sim.Memory()
	if after[0x88] != 0x95 || after[0x8B] != 0x77 {
		t.Fatalf("identity not restored: % X", after[0x88:0x8C])
	}
}

func TestRestoreIdentityOnly_VerificationMismatch(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	sim := transport.NewSimulatedAX88772B(model.Identity{VendorID: 0x0B95, ProductID: 0x772B})
	b, err := s.CreateBackup(ctx, sim, model.DeviceInfo{})
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if _, err := sim.WriteByteAt(ctx, 0x8A, 0x00, true); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	sim.IgnoreWritesAt(0x8A)

	_, err = s.RestoreIdentityOnly(ctx, sim, b.ID)
	if !fault.IsKind(err, fault.KindVerification) {
		t.Fatalf("expected verification fault, got %v", err)
	}
}

func TestListWithIntegrity_DoesNotMutate(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore(t)
	good := backupOf(randomPayload(rand.New(rand.NewSource(4)), 64))
	good.ID = "bak_good"
	bad := good
	bad.ID = "bak_bad"
	bad.CreatedAt++
	bad.HexPayload = "00" + good.HexPayload[2:]
	if bad.HexPayload == good.HexPayload {
		bad.HexPayload = "01" + good.HexPayload[2:]
	}
	for _, b := range []model.Backup{good, bad} {
		if err := repo.InsertBackup(ctx, b); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	list, err := s.ListWithIntegrity(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %v", list, err)
	}
	statuses := map[string]model.IntegrityStatus{}
	for _, it := range list {
		statuses[it.Backup.ID] = it.Check.Status
	}
	if statuses["bak_good"] != model.IntegrityValid || statuses["bak_bad"] != model.IntegrityInvalid {
		t.Fatalf("statuses=%v", statuses)
	}
	stored, _ := repo.GetBackup(ctx, "bak_bad")
	if stored.Status != model.IntegrityValid || stored.MD5 != good.MD5 {
		t.Fatalf("stored record mutated: %+v", stored)
	}
}

func TestMigrateLegacyDigests_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore(t)

	legacy := backupOf(randomPayload(rand.New(rand.NewSource(5)), 32))
	legacy.ID = "bak_legacy"
	legacy.SchemaVersion = model.BackupSchemaLegacy
	legacy.SHA256 = ""
	broken := legacy
	broken.ID = "bak_broken"
	broken.HexPayload = "zz" + legacy.HexPayload[2:]
	for _, b := range []model.Backup{legacy, broken} {
		if err := repo.InsertBackup(ctx, b); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rep, err := s.MigrateLegacyDigests(ctx)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if rep.Scanned != 2 || rep.Migrated != 1 || len(rep.Skipped) != 1 {
		t.Fatalf("report=%+v", rep)
	}
	got, _ := repo.GetBackup(ctx, "bak_legacy")
	if got.SchemaVersion != model.BackupSchemaCurrent || got.SHA256 != hash.SHA256Hex(legacy.HexPayload) || got.MD5 != legacy.MD5 {
		t.Fatalf("legacy record not migrated correctly: %+v", got)
	}
	if VerifyIntegrity(*got).Status != model.IntegrityValid {
		t.Fatalf("migrated record should verify")
	}

	again, err := s.MigrateLegacyDigests(ctx)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if again.Migrated != 0 {
		t.Fatalf("second run migrated %d records", again.Migrated)
	}
	if b, _ := repo.GetBackup(ctx, "bak_broken"); b.SHA256 != "" || b.SchemaVersion != model.BackupSchemaLegacy {
		t.Fatalf("broken record should be left untouched: %+v", b)
	}
}

func TestMigrateLegacyDigests_CurrentSchemaMissingSHA256(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore(t)

	b := backupOf(randomPayload(rand.New(rand.NewSource(9)), 16))
	b.ID = "bak_current_no_sha"
	b.SHA256 = ""
	if err := repo.InsertBackup(ctx, b); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rep, err := s.MigrateLegacyDigests(ctx)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if rep.Scanned != 1 || rep.Migrated != 1 {
		t.Fatalf("report=%+v", rep)
	}
	got, _ := repo.GetBackup(ctx, b.ID)
	if got.SchemaVersion != model.BackupSchemaCurrent || got.SHA256 != hash.SHA256Hex(b.HexPayload) {
		t.Fatalf("sha256 not backfilled: %+v", got)
	}
	again, err := s.MigrateLegacyDigests(ctx)
	if err != nil || again.Scanned != 0 || again.Migrated != 0 {
		t.Fatalf("second run: %+v %v", again, err)
	}
}
