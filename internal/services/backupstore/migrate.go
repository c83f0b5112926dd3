package backupstore

import (
	"context"
	"fmt"

	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
)

// migration 是一步幂等的记录升级：把 schema 版本 < To 的记录升到 To。
// apply 返回需要写回的摘要；ok=false 表示该记录本步无法升级（保持原样）。
// pending 为空时只看版本号。
type migration struct {
	To      int
	Name    string
	pending func(b model.Backup) bool
	apply   func(b model.Backup) (md5, sha256 string, ok bool, reason string)
}

// migrations 按版本升序排列。
var migrations = []migration{
	{To: model.BackupSchemaCurrent, Name: "backfill_sha256", pending: missingSHA256, apply: backfillSHA256},
}

// missingSHA256 也覆盖版本号已是当前、但 SHA-256 为空的记录。
func missingSHA256(b model.Backup) bool {
	return b.SHA256 == ""
}

func (m migration) due(b model.Backup, version int) bool {
	if version < m.To {
		return true
	}
	return m.pending != nil && m.pending(b)
}

// backfillSHA256 为仅有 MD5 的早期记录补全 SHA-256，不改动 MD5，也不重新读取设备。
// 载荷格式不合法或与存量 MD5 不符的记录跳过，避免给已损坏的数据补一个“有效”的摘要。
func backfillSHA256(b model.Backup) (string, string, bool, string) {
	if b.SHA256 != "" {
		return "", "", true, ""
	}
	if !isHex(b.HexPayload) {
		return "", "", false, "payload is not valid hex"
	}
	if b.MD5 != "" && !hash.Equal(hash.MD5Hex(b.HexPayload), b.MD5) {
		return "", "", false, "md5 does not match payload"
	}
	return "", hash.SHA256Hex(b.HexPayload), true, ""
}

// MigrationReport 汇总一次迁移。
type MigrationReport struct {
	Scanned  int               `json:"scanned"`
	Migrated int               `json:"migrated"`
	Skipped  map[string]string `json:"skipped,omitempty"`
}

// MigrateLegacyDigests 依次执行 migrations。重复执行不会产生变化。
func (s *Store) MigrateLegacyDigests(ctx context.Context) (*MigrationReport, error) {
	legacy, err := s.repo.ListLegacyBackups(ctx, model.BackupSchemaCurrent)
	if err != nil {
		return nil, fault.Storage("migrate backups", err)
	}
	rep := &MigrationReport{Scanned: len(legacy), Skipped: map[string]string{}}
	for _, b := range legacy {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		version := b.SchemaVersion
		md5, sha := "", ""
		for _, m := range migrations {
			if !m.due(b, version) {
				continue
			}
			nm, ns, ok, reason := m.apply(b)
			if !ok {
				rep.Skipped[b.ID] = fmt.Sprintf("%s: %s", m.Name, reason)
				break
			}
			if nm != "" {
				md5, b.MD5 = nm, nm
			}
			if ns != "" {
				sha, b.SHA256 = ns, ns
			}
			if version < m.To {
				version = m.To
			}
		}
		if version == b.SchemaVersion && md5 == "" && sha == "" {
			continue
		}
		if err := s.repo.UpdateBackupDigests(ctx, b.ID, md5, sha, version); err != nil {
			return rep, fault.Storage("migrate backups", err)
		}
		rep.Migrated++
	}
	if len(rep.Skipped) == 0 {
		rep.Skipped = nil
	}
	s.log.Info("legacy digests migrated", "scanned", rep.Scanned, "migrated", rep.Migrated, "skipped", len(rep.Skipped))
	if rep.Migrated > 0 || len(rep.Skipped) > 0 {
		_ = s.repo.AppendAudit(ctx, "", "", "backup", "migrate_digests", "success", s.actor, s.source, rep)
	}
	return rep, nil
}
