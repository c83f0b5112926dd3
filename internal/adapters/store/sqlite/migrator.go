package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"eeprom-spoofer/internal/platform/hash"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    checksum   TEXT NOT NULL,
    applied_at INTEGER NOT NULL
)`

// MigrationStatus 是一条迁移脚本的登记状态。
type MigrationStatus struct {
	Version   int    `json:"version"`
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
	AppliedAt int64  `json:"applied_at,omitempty"`
	Applied   bool   `json:"applied"`
}

type script struct {
	version  int
	name     string
	body     string
	checksum string
}

// Migrator 按版本号执行内嵌 SQL，并在 schema_migrations 中登记已执行的脚本。
type Migrator struct {
	db      *sql.DB
	scripts fs.FS
}

func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, scripts: migrationFS}
}

// Up 执行所有未登记的脚本，每个脚本与其登记记录在同一事务内提交。
// 已登记脚本的内容若被改动，返回错误而不是重放。
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, ledgerDDL); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}
	scripts, err := m.load()
	if err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for _, sc := range scripts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if prev, ok := applied[sc.version]; ok {
			if prev.Checksum != sc.checksum {
				return fmt.Errorf("migration %s changed after being applied (ledger %s, embedded %s)", sc.name, prev.Checksum, sc.checksum)
			}
			continue
		}
		if err := m.apply(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

// Status 列出内嵌脚本及其是否已执行。
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	scripts, err := m.load()
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationStatus, 0, len(scripts))
	for _, sc := range scripts {
		st := MigrationStatus{Version: sc.version, Name: sc.name, Checksum: sc.checksum}
		if prev, ok := applied[sc.version]; ok {
			st.Applied, st.AppliedAt = true, prev.AppliedAt
		}
		out = append(out, st)
	}
	return out, nil
}

func (m *Migrator) apply(ctx context.Context, sc script) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", sc.name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sc.body); err != nil {
		return fmt.Errorf("exec migration %s: %w", sc.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations(version, name, checksum, applied_at) VALUES(?, ?, ?, ?)`,
		sc.version, sc.name, sc.checksum, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", sc.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", sc.name, err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]MigrationStatus, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, name, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return map[int]MigrationStatus{}, nil
		}
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer rows.Close()

	out := map[int]MigrationStatus{}
	for rows.Next() {
		var st MigrationStatus
		if err := rows.Scan(&st.Version, &st.Name, &st.Checksum, &st.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		st.Applied = true
		out[st.Version] = st
	}
	return out, rows.Err()
}

// load 读取 NNN_name.sql 形式的脚本，按版本号升序；版本号重复视为打包错误。
func (m *Migrator) load() ([]script, error) {
	entries, err := fs.ReadDir(m.scripts, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	var out []script
	seen := map[int]string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: name must start with a positive version number", entry.Name())
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, entry.Name(), version)
		}
		seen[version] = entry.Name()

		raw, err := fs.ReadFile(m.scripts, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := string(raw)
		out = append(out, script{version: version, name: entry.Name(), body: body, checksum: hash.SHA256Hex(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
