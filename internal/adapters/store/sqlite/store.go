package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
	"eeprom-spoofer/internal/platform/id"
)

// Store 封装与 SQLite 的读写逻辑。
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetSchemaMetaValue 查询 schema_meta 表指定 key 的 value。
func (s *Store) GetSchemaMetaValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM schema_meta
		WHERE key = ?
		LIMIT 1
	`, key).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("query schema_meta %s: %w", key, err)
	}
	return v, nil
}

// InsertBackup 写入一条备份记录。记录一经写入只允许补全摘要（见 UpdateBackupDigests）。
func (s *Store) InsertBackup(ctx context.Context, b model.Backup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backups(
			id, schema_version, created_at, device_name, vendor_id, product_id, chipset,
			serial_number, hex_payload, declared_size, md5, sha256, notes, status, file_path
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.SchemaVersion, b.CreatedAt, nullIfEmpty(b.DeviceName), b.VendorID, b.ProductID,
		nullIfEmpty(b.Chipset), nullIfEmpty(b.SerialNumber), b.HexPayload, b.DeclaredSize,
		nullIfEmpty(b.MD5), nullIfEmpty(b.SHA256), nullIfEmpty(b.Notes), string(b.Status), nullIfEmpty(b.FilePath),
	)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

const backupColumns = `
	id, schema_version, created_at, COALESCE(device_name, ''), vendor_id, product_id,
	COALESCE(chipset, ''), COALESCE(serial_number, ''), hex_payload, declared_size,
	COALESCE(md5, ''), COALESCE(sha256, ''), COALESCE(notes, ''), status, COALESCE(file_path, '')
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(r rowScanner) (model.Backup, error) {
	var b model.Backup
	var status string
	err := r.Scan(
		&b.ID,
		&b.SchemaVersion,
		&b.CreatedAt,
		&b.DeviceName,
		&b.VendorID,
		&b.ProductID,
		&b.Chipset,
		&b.SerialNumber,
		&b.HexPayload,
		&b.DeclaredSize,
		&b.MD5,
		&b.SHA256,
		&b.Notes,
		&status,
		&b.FilePath,
	)
	b.Status = model.IntegrityStatus(status)
	return b, err
}

// GetBackup 按 ID 查询备份；不存在时返回 (nil, nil)。
func (s *Store) GetBackup(ctx context.Context, backupID string) (*model.Backup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = ? LIMIT 1`, backupID)
	b, err := scanBackup(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query backup: %w", err)
	}
	return &b, nil
}

// ListBackups 返回全部备份，按创建时间倒序。
func (s *Store) ListBackups(ctx context.Context) ([]model.Backup, error) {
	return s.queryBackups(ctx, `SELECT `+backupColumns+` FROM backups ORDER BY created_at DESC, id DESC`)
}

// ListLegacyBackups 返回缺少 SHA-256 或 schema 版本落后的备份。
func (s *Store) ListLegacyBackups(ctx context.Context, currentSchema int) ([]model.Backup, error) {
	return s.queryBackups(ctx, `
		SELECT `+backupColumns+`
		FROM backups
		WHERE schema_version < ? OR sha256 IS NULL OR sha256 = ''
		ORDER BY created_at ASC, id ASC
	`, currentSchema)
}

func (s *Store) queryBackups(ctx context.Context, query string, args ...any) ([]model.Backup, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()

	var out []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	if out == nil {
		out = []model.Backup{}
	}
	return out, nil
}

// UpdateBackupDigests 补全摘要并提升 schema 版本（迁移用，载荷不动）。
func (s *Store) UpdateBackupDigests(ctx context.Context, backupID, md5, sha256 string, schemaVersion int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backups
		SET md5 = COALESCE(NULLIF(?, ''), md5),
		    sha256 = COALESCE(NULLIF(?, ''), sha256),
		    schema_version = ?
		WHERE id = ?
	`, md5, sha256, schemaVersion, backupID)
	if err != nil {
		return fmt.Errorf("update backup digests: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update backup digests: backup not found: %s", backupID)
	}
	return nil
}

// AppendAudit 写入审计日志，并生成链式 hash 以便后续校验完整性。
// 整库一条链：prev 取最近一次插入（seq 最大）的记录。
func (s *Store) AppendAudit(ctx context.Context, sessionID, deviceKey, eventType, action, status, actor, source string, detail any) error {
	detailJSON := []byte("{}")
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err == nil {
			detailJSON = raw
		}
	}

	prev := ""
	err := s.db.QueryRowContext(ctx, `
		SELECT chain_hash
		FROM audit_logs
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query previous chain hash: %w", err)
	}

	now := time.Now().Unix()
	eventID := id.New("evt")
	chain := AuditChainHash(prev, sessionID, deviceKey, eventType, action, status, now, string(detailJSON))

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs(
			event_id, session_id, device_key, event_type, action, status,
			actor, source, detail_json, occurred_at, chain_prev_hash, chain_hash
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventID, nullIfEmpty(sessionID), nullIfEmpty(deviceKey), eventType, action, status, actor, source, string(detailJSON), now, nullIfEmpty(prev), chain)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

// AuditChainHash 是审计链 hash 公式，AppendAudit 与 auditverify 共用。
func AuditChainHash(prev, sessionID, deviceKey, eventType, action, status string, occurredAt int64, detail string) string {
	return hash.Text(prev, sessionID, deviceKey, eventType, action, status, fmt.Sprintf("%d", occurredAt), detail)
}

// ListAuditLogs 返回审计日志（按写入顺序）。sessionID 为空时返回全部会话；
// limit <= 0 表示不限条数（导出与链校验需要整条链）。
func (s *Store) ListAuditLogs(ctx context.Context, sessionID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			event_id,
			COALESCE(session_id, ''),
			COALESCE(device_key, ''),
			event_type,
			action,
			status,
			COALESCE(actor, ''),
			COALESCE(source, ''),
			COALESCE(detail_json, '{}'),
			occurred_at,
			COALESCE(chain_prev_hash, ''),
			chain_hash
		FROM audit_logs
		WHERE ? = '' OR session_id = ?
		ORDER BY seq ASC
		LIMIT ?
	`, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []model.AuditLog
	for rows.Next() {
		var item model.AuditLog
		var detail string
		if err := rows.Scan(
			&item.EventID,
			&item.SessionID,
			&item.DeviceKey,
			&item.EventType,
			&item.Action,
			&item.Status,
			&item.Actor,
			&item.Source,
			&detail,
			&item.OccurredAt,
			&item.ChainPrevHash,
			&item.ChainHash,
		); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		item.DetailJSON = json.RawMessage(detail)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	if out == nil {
		out = []model.AuditLog{}
	}
	return out, nil
}

// SaveReport 记录报告/导出产物信息，供 UI 或 CLI 追踪。
func (s *Store) SaveReport(ctx context.Context, reportType, filePath, sha256, generatorVersion, status string) (string, error) {
	reportID := id.New("report")
	now := time.Now().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports(
			report_id, report_type, file_path, sha256, generated_at, generator_version, status
		)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, reportID, reportType, filePath, sha256, now, generatorVersion, status)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	return reportID, nil
}

// GetReportByID 按报告 ID 查询报告索引。
func (s *Store) GetReportByID(ctx context.Context, reportID string) (*model.ReportInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT report_id, report_type, file_path, sha256, generated_at, COALESCE(generator_version, ''), status
		FROM reports
		WHERE report_id = ?
		LIMIT 1
	`, reportID)
	var out model.ReportInfo
	if err := row.Scan(
		&out.ReportID,
		&out.ReportType,
		&out.FilePath,
		&out.SHA256,
		&out.GeneratedAt,
		&out.GeneratorVersion,
		&out.Status,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query report info: %w", err)
	}
	return &out, nil
}

// ListReports 返回全部报告索引，按生成时间倒序。
func (s *Store) ListReports(ctx context.Context) ([]model.ReportInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, report_type, file_path, sha256, generated_at, COALESCE(generator_version, ''), status
		FROM reports
		ORDER BY generated_at DESC, report_id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []model.ReportInfo
	for rows.Next() {
		var item model.ReportInfo
		if err := rows.Scan(
			&item.ReportID,
			&item.ReportType,
			&item.FilePath,
			&item.SHA256,
			&item.GeneratedAt,
			&item.GeneratorVersion,
			&item.Status,
		); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	if out == nil {
		out = []model.ReportInfo{}
	}
	return out, nil
}

// 空字符串按 NULL 写入，避免无意义空值污染查询条件。
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
