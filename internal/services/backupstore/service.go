// Package backupstore 持久化 EEPROM 快照（MD5 + SHA-256 双摘要），
// 并只提供经完整性校验的“仅身份”恢复。
//
// 整片镜像回写不存在：只有 4 个身份字节、逐字节写入并回读确认的窄路径。
package backupstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eeprom-spoofer/internal/adapters/transport"
	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
	"eeprom-spoofer/internal/platform/id"
	"eeprom-spoofer/internal/platform/logging"
	"eeprom-spoofer/internal/platform/metrics"
)

// ErrNotFound 表示备份不存在。
var ErrNotFound = errors.New("backup not found")

// Store 是备份与完整性服务。
type Store struct {
	repo    *sqliteadapter.Store
	dir     string
	log     logging.Logger
	metrics *metrics.Collector
	actor   string
	source  string
}

// Option 配置 Store。
type Option func(*Store)

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Store) { s.metrics = m }
}

// WithActor 设置审计日志中的操作者与来源。
func WithActor(actor, source string) Option {
	return func(s *Store) {
		s.actor = actor
		s.source = source
	}
}

// New 创建备份服务；backupDir 为空时不写二进制副本。
func New(repo *sqliteadapter.Store, backupDir string, opts ...Option) *Store {
	s := &Store{repo: repo, dir: backupDir, log: logging.Nop(), actor: "operator", source: "backupstore"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBackup 整片转储设备 EEPROM 并持久化。
func (s *Store) CreateBackup(ctx context.Context, t transport.Transport, dev model.DeviceInfo) (*model.Backup, error) {
	if t == nil || !t.IsOpen() {
		return nil, fault.Connection("create backup", "no device open")
	}
	h, size, err := t.DumpAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("create backup: dump eeprom: %w", err)
	}
	img, err := model.MemoryImageFromHex(h, size)
	if err != nil {
		return nil, fmt.Errorf("create backup: %w", err)
	}
	if len(img.Bytes) != img.Size {
		return nil, &fault.Error{
			Kind:    fault.KindConnection,
			Op:      "create backup",
			Message: fmt.Sprintf("dump returned %d bytes, device reports %d", len(img.Bytes), img.Size),
		}
	}
	if dev.Identity.IsZero() {
		if cur, err := t.CurrentIdentity(ctx); err == nil {
			dev.Identity = cur
		}
	}
	return s.SaveSnapshot(ctx, dev, img)
}

// SaveSnapshot 持久化一份已在内存中的镜像。刚从设备读出，状态直接置为 valid。
// 任一持久化步骤失败都返回 Storage 错误。
func (s *Store) SaveSnapshot(ctx context.Context, dev model.DeviceInfo, img model.MemoryImage) (*model.Backup, error) {
	if img.Size > 0 && img.Size != len(img.Bytes) {
		return nil, fmt.Errorf("save backup: image holds %d bytes, declared %d", len(img.Bytes), img.Size)
	}
	payload := img.Hex()
	b := model.Backup{
		ID:            id.New("bak"),
		SchemaVersion: model.BackupSchemaCurrent,
		CreatedAt:     time.Now().Unix(),
		DeviceName:    dev.Name,
		VendorID:      dev.Identity.VendorID,
		ProductID:     dev.Identity.ProductID,
		Chipset:       dev.Chipset,
		SerialNumber:  dev.Serial,
		HexPayload:    payload,
		DeclaredSize:  len(img.Bytes),
		MD5:           hash.MD5Hex(payload),
		SHA256:        hash.SHA256Hex(payload),
		Status:        model.IntegrityValid,
	}

	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, fault.Storage("save backup", fmt.Errorf("mkdir backup dir: %w", err))
		}
		b.FilePath = filepath.Join(s.dir, b.ID+".bin")
		if err := os.WriteFile(b.FilePath, img.Bytes, 0o644); err != nil {
			return nil, fault.Storage("save backup", fmt.Errorf("write binary copy: %w", err))
		}
	}
	if err := s.repo.InsertBackup(ctx, b); err != nil {
		if b.FilePath != "" {
			_ = os.Remove(b.FilePath)
		}
		return nil, fault.Storage("save backup", err)
	}

	s.metrics.BackupCreated()
	s.log.Info("backup created", "id", b.ID, "device", dev.Identity.String(), "size", b.DeclaredSize)
	_ = s.repo.AppendAudit(ctx, "", dev.Identity.String(), "backup", "create", "success", s.actor, s.source, map[string]any{
		"backup_id": b.ID,
		"size":      b.DeclaredSize,
		"md5":       b.MD5,
		"sha256":    b.SHA256,
	})
	return &b, nil
}

// Get 按 ID 读取备份。
func (s *Store) Get(ctx context.Context, backupID string) (*model.Backup, error) {
	b, err := s.repo.GetBackup(ctx, backupID)
	if err != nil {
		return nil, fault.Storage("load backup", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, backupID)
	}
	return b, nil
}

// VerifyByID 读取并校验一份备份。
func (s *Store) VerifyByID(ctx context.Context, backupID string) (*model.IntegrityCheckResult, error) {
	b, err := s.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}
	res := VerifyIntegrity(*b)
	s.metrics.IntegrityChecked(string(res.Status))
	return &res, nil
}

// ListWithIntegrity 返回全部备份及实时计算的完整性状态，不修改存量记录。
func (s *Store) ListWithIntegrity(ctx context.Context) ([]model.BackupWithIntegrity, error) {
	list, err := s.repo.ListBackups(ctx)
	if err != nil {
		return nil, fault.Storage("list backups", err)
	}
	out := make([]model.BackupWithIntegrity, 0, len(list))
	for _, b := range list {
		out = append(out, model.BackupWithIntegrity{Backup: b, Check: VerifyIntegrity(b)})
	}
	return out, nil
}

// RestoreResult 是一次仅身份恢复的结果。
type RestoreResult struct {
	BackupID string             `json:"backup_id"`
	Identity model.Identity     `json:"identity"`
	Changes  []model.ByteChange `json:"changes"`
	Verified bool               `json:"verified"`
}

// RestoreIdentityOnly 把备份中的 4 个身份字节写回设备。
// 硬门槛：完整性状态不是 valid 时直接返回 Integrity 错误，不触碰设备。
func (s *Store) RestoreIdentityOnly(ctx context.Context, t transport.Transport, backupID string) (*RestoreResult, error) {
	const op = "restore identity"
	b, err := s.Get(ctx, backupID)
	if err != nil {
		return nil, err
	}
	check := VerifyIntegrity(*b)
	s.metrics.IntegrityChecked(string(check.Status))
	if check.Status != model.IntegrityValid {
		s.metrics.Restore("blocked")
		_ = s.repo.AppendAudit(ctx, "", b.Identity().String(), "restore", "restore_identity", "blocked", s.actor, s.source, map[string]any{
			"backup_id": b.ID,
			"status":    check.Status,
			"details":   check.Details,
		})
		return nil, fault.Integrity(op, check.Status, check.Details)
	}

	if t == nil || !t.IsOpen() {
		return nil, fault.Connection(op, "no device open")
	}

	target, err := ExtractIdentity(*b)
	if err != nil {
		return nil, err
	}
	offsets := model.CanonicalOffsets.Slice()
	next := target.LittleEndian()

	res := &RestoreResult{BackupID: b.ID, Identity: target}
	for i, off := range offsets {
		old, err := transport.ReadByte(ctx, t, off)
		if err != nil {
			return nil, fmt.Errorf("%s: read 0x%03X: %w", op, off, err)
		}
		res.Changes = append(res.Changes, model.ByteChange{Offset: off, Old: old, New: next[i]})
	}

	sessionID := id.Session()
	_ = s.repo.AppendAudit(ctx, sessionID, target.String(), "restore", "restore_identity", "started", s.actor, s.source, map[string]any{
		"backup_id": b.ID,
		"changes":   res.Changes,
	})

	// 写入一旦开始就走完：不响应取消。
	wctx := context.WithoutCancel(ctx)
	for i, off := range offsets {
		if _, err := t.WriteByteAt(wctx, off, next[i], true); err != nil {
			s.metrics.Restore("failed")
			_ = s.repo.AppendAudit(wctx, sessionID, target.String(), "restore", "restore_identity", "failed", s.actor, s.source, map[string]any{"error": err.Error(), "offset": off})
			return nil, fmt.Errorf("%s: write 0x%03X: %w", op, off, err)
		}
	}

	var mismatches []model.ByteMismatch
	for i, off := range offsets {
		got, err := transport.ReadByte(wctx, t, off)
		if err != nil {
			return nil, fault.Verification(op, nil, fmt.Errorf("read back 0x%03X: %w", off, err))
		}
		if got != next[i] {
			mismatches = append(mismatches, model.ByteMismatch{Offset: off, Expected: next[i], Actual: got})
		}
	}
	if len(mismatches) > 0 {
		s.metrics.Restore("failed")
		_ = s.repo.AppendAudit(wctx, sessionID, target.String(), "restore", "restore_identity", "verification_failed", s.actor, s.source, map[string]any{"mismatches": mismatches})
		return nil, fault.Verification(op, mismatches, nil)
	}

	res.Verified = true
	s.metrics.Restore("success")
	s.log.Info("identity restored", "backup", b.ID, "identity", target.String())
	_ = s.repo.AppendAudit(wctx, sessionID, target.String(), "restore", "restore_identity", "success", s.actor, s.source, map[string]any{"backup_id": b.ID})
	return res, nil
}

// ReadBinaryCopy 读取二进制副本并与载荷比对（导出/报告用）。
func ReadBinaryCopy(b model.Backup) ([]byte, error) {
	if b.FilePath == "" {
		return nil, errors.New("backup has no binary copy")
	}
	raw, err := os.ReadFile(b.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read binary copy: %w", err)
	}
	if hex.EncodeToString(raw) != b.HexPayload {
		return raw, fmt.Errorf("binary copy %s does not match stored payload", filepath.Base(b.FilePath))
	}
	return raw, nil
}
