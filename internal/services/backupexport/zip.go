// Package backupexport 把备份打包为可离线复核的 ZIP。
//
// ZIP 内容：
//   - backups/<id>.bin：备份镜像原始字节
//   - manifest.json：备份记录、完整性状态、审计链
//   - hashes.sha256：除自身外所有文件的 sha256（sha256sum 兼容格式）
package backupexport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/app"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
	"eeprom-spoofer/internal/services/auditverify"
	"eeprom-spoofer/internal/services/backupstore"
	"eeprom-spoofer/internal/services/privacy"

	"github.com/klauspost/compress/zip"
)

const (
	ReportType     = "backup_zip"
	manifestSchema = "eeprom_spoofer.backup_export_manifest.v1"
	generatorVer   = "backupexport-0.1.0"
	hashesFile     = "hashes.sha256"
	manifestFile   = "manifest.json"
)

type Options struct {
	ExportDir string
	// BackupIDs 为空时导出全部备份。
	BackupIDs []string
	Operator  string
	Note      string
	// PrivacyMode 为 masked 时 manifest 中的序列号脱敏。
	PrivacyMode string
}

type FileHashEntry struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
	Kind      string `json:"kind"` // backup|manifest
}

type ManifestBackup struct {
	Backup    model.Backup               `json:"backup"`
	Integrity model.IntegrityCheckResult `json:"integrity"`
	ZipPath   string                     `json:"zip_path"`
}

type Manifest struct {
	Schema      string `json:"schema"`
	GeneratedAt int64  `json:"generated_at"`
	App         struct {
		Version   string `json:"version"`
		Commit    string `json:"commit"`
		BuildTime string `json:"build_time"`
	} `json:"app"`
	Backups  []ManifestBackup `json:"backups"`
	Audits   []model.AuditLog `json:"audits"`
	Files    []FileHashEntry  `json:"files"`
	Warnings []string         `json:"warnings,omitempty"`
	Note     string           `json:"note,omitempty"`
}

type Result struct {
	ReportID    string   `json:"report_id"`
	ZipPath     string   `json:"zip_path"`
	ZipSHA256   string   `json:"zip_sha256"`
	BackupCount int      `json:"backup_count"`
	Warnings    []string `json:"warnings,omitempty"`
	StartedAt   int64    `json:"started_at"`
	FinishedAt  int64    `json:"finished_at"`
}

// Generate 写出导出包，并登记为 report_type=backup_zip。
func Generate(ctx context.Context, store *sqliteadapter.Store, backups *backupstore.Store, opts Options) (*Result, error) {
	startedAt := time.Now().Unix()
	exportDir := strings.TrimSpace(opts.ExportDir)
	if exportDir == "" {
		exportDir = app.DefaultConfig().ExportDir
	}
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		operator = "system"
	}
	mode, err := privacy.ParseMode(opts.PrivacyMode)
	if err != nil {
		return nil, err
	}
	masked := privacy.Masked(mode)
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	all, err := backups.ListWithIntegrity(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := selectBackups(all, opts.BackupIDs)
	if err != nil {
		return nil, err
	}
	audits, err := store.ListAuditLogs(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	zipPath := filepath.Join(exportDir, fmt.Sprintf("backups_export_%d.zip", time.Now().UnixNano()))
	f, err := os.Create(zipPath)
	if err != nil {
		return nil, fmt.Errorf("create zip: %w", err)
	}
	defer func() { _ = f.Close() }()
	zw := zip.NewWriter(f)
	defer func() { _ = zw.Close() }()

	var warnings []string
	var files []FileHashEntry
	entries := make([]ManifestBackup, 0, len(selected))
	for _, b := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := backupstore.ReadBinaryCopy(b.Backup)
		if err != nil {
			// 二进制副本缺失或不一致时以数据库载荷为准。
			warnings = append(warnings, fmt.Sprintf("backup %s: %v; using stored payload", b.Backup.ID, err))
			raw, err = hex.DecodeString(b.Backup.HexPayload)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("skip backup %s: payload is not hex", b.Backup.ID))
				continue
			}
		}
		p := "backups/" + b.Backup.ID + ".bin"
		sum, size, err := writeBytes(zw, p, raw)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", p, err)
		}
		files = append(files, FileHashEntry{Path: p, SHA256: sum, SizeBytes: size, Kind: "backup"})
		rec := b.Backup
		rec.FilePath = ""
		if masked {
			rec = privacy.MaskBackup(rec)
		}
		entries = append(entries, ManifestBackup{Backup: rec, Integrity: b.Check, ZipPath: p})
	}

	m := Manifest{
		Schema:      manifestSchema,
		GeneratedAt: time.Now().Unix(),
		Backups:     entries,
		Audits:      audits,
		Warnings:    warnings,
		Note:        strings.TrimSpace(opts.Note),
	}
	m.App.Version = app.Version
	m.App.Commit = app.Commit
	m.App.BuildTime = app.BuildTime
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	m.Files = files

	manifestRaw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	sum, size, err := writeBytes(zw, manifestFile, manifestRaw)
	if err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	files = append(files, FileHashEntry{Path: manifestFile, SHA256: sum, SizeBytes: size, Kind: "manifest"})
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	lines := []string{
		"# eeprom-spoofer backup export hash list",
		fmt.Sprintf("# generated_at=%d", time.Now().Unix()),
		"# format: <sha256><two spaces><path>",
	}
	for _, fh := range files {
		lines = append(lines, fmt.Sprintf("%s  %s", fh.SHA256, fh.Path))
	}
	lines = append(lines, "")
	if _, _, err := writeBytes(zw, hashesFile, []byte(strings.Join(lines, "\n"))); err != nil {
		return nil, fmt.Errorf("write %s: %w", hashesFile, err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close zip file: %w", err)
	}
	zipSum, _, err := hash.File(zipPath)
	if err != nil {
		return nil, fmt.Errorf("hash zip: %w", err)
	}

	reportID, err := store.SaveReport(ctx, ReportType, zipPath, zipSum, generatorVer, "ready")
	if err != nil {
		return nil, err
	}
	_ = store.AppendAudit(ctx, "", "", "export", ReportType, "success", operator, "backupexport.Generate", map[string]any{
		"zip_path":     zipPath,
		"zip_sha256":   zipSum,
		"backup_count": len(entries),
		"privacy_mode": mode,
		"warnings":     warnings,
	})

	return &Result{
		ReportID:    reportID,
		ZipPath:     zipPath,
		ZipSHA256:   zipSum,
		BackupCount: len(entries),
		Warnings:    warnings,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().Unix(),
	}, nil
}

func selectBackups(all []model.BackupWithIntegrity, ids []string) ([]model.BackupWithIntegrity, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]model.BackupWithIntegrity, len(all))
	for _, b := range all {
		byID[b.Backup.ID] = b
	}
	out := make([]model.BackupWithIntegrity, 0, len(ids))
	for _, id := range ids {
		b, ok := byID[strings.TrimSpace(id)]
		if !ok {
			return nil, fmt.Errorf("backup not found: %s", id)
		}
		out = append(out, b)
	}
	return out, nil
}

func writeBytes(zw *zip.Writer, name string, b []byte) (string, int64, error) {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return "", 0, err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), bytes.NewReader(b))
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// VerifyItem 是一个文件的复核结果。
type VerifyItem struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Status   string `json:"status"` // ok|missing|mismatch|error
	Error    string `json:"error,omitempty"`
}

// VerifyResult 汇总 hashes.sha256 复核与 manifest 中审计链的校验。
type VerifyResult struct {
	Total  int                 `json:"total"`
	OK     int                 `json:"ok"`
	Failed int                 `json:"failed"`
	Items  []VerifyItem        `json:"items"`
	Audit  *auditverify.Result `json:"audit,omitempty"`
}

// Passed 表示所有文件哈希一致且审计链完整。
func (r *VerifyResult) Passed() bool {
	return r.Failed == 0 && (r.Audit == nil || r.Audit.OK)
}

// Verify 重新计算导出包内文件的 sha256 并与 hashes.sha256 对比。
func Verify(path string) (*VerifyResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}
	hf, ok := files[hashesFile]
	if !ok {
		return nil, fmt.Errorf("%s not found in zip", hashesFile)
	}
	hashList, err := readAll(hf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", hashesFile, err)
	}

	res := &VerifyResult{}
	sc := bufio.NewScanner(bytes.NewReader(hashList))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 || len(parts[0]) != 64 {
			continue
		}
		item := VerifyItem{Path: strings.Join(parts[1:], " "), Expected: parts[0]}
		res.Total++
		f, ok := files[item.Path]
		switch {
		case !ok:
			item.Status = "missing"
		default:
			raw, err := readAll(f)
			if err != nil {
				item.Status, item.Error = "error", err.Error()
				break
			}
			item.Actual = hash.SHA256Hex(string(raw))
			if hash.Equal(item.Actual, item.Expected) {
				item.Status = "ok"
			} else {
				item.Status = "mismatch"
			}
		}
		if item.Status == "ok" {
			res.OK++
		} else {
			res.Failed++
		}
		res.Items = append(res.Items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", hashesFile, err)
	}

	if mf, ok := files[manifestFile]; ok {
		if raw, err := readAll(mf); err == nil {
			var payload struct {
				Audits []model.AuditLog `json:"audits"`
			}
			if json.Unmarshal(raw, &payload) == nil {
				a := auditverify.VerifyAuditLogs(payload.Audits)
				res.Audit = &a
			}
		}
	}
	return res, nil
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
