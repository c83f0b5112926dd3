// Package devicereport 生成设备 PDF 报告：分析结论、诊断、恢复手段与备份完整性。
//
// 报告登记到 reports 表（report_type=device_pdf），并写入审计链。
package devicereport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
	"eeprom-spoofer/internal/services/privacy"

	"github.com/phpdave11/gofpdf"
)

const (
	ReportType   = "device_pdf"
	generatorVer = "devicereport-0.1.0"
)

// Input 是报告内容；除 Device 外均可为空。
type Input struct {
	Device    model.Identity
	Analysis  *model.AnalysisResult
	Diagnosis *model.DiagnosticResult
	Recovery  []model.RecoveryMethod
	Backups   []model.BackupWithIntegrity
}

type Options struct {
	ReportDir string
	Operator  string
	Note      string
	// PrivacyMode 为 masked 时隐藏序列号与本机路径。
	PrivacyMode string
}

type Result struct {
	ReportID    string   `json:"report_id"`
	PDFPath     string   `json:"pdf_path"`
	PDFSHA256   string   `json:"pdf_sha256"`
	Warnings    []string `json:"warnings,omitempty"`
	GeneratedAt int64    `json:"generated_at"`
}

// Generate 写出 PDF、登记报告并追加审计。
func Generate(ctx context.Context, store *sqliteadapter.Store, in Input, opts Options) (*Result, error) {
	if in.Device.IsZero() {
		return nil, fmt.Errorf("device identity is required")
	}
	reportDir := strings.TrimSpace(opts.ReportDir)
	if reportDir == "" {
		return nil, fmt.Errorf("report_dir is required")
	}
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		operator = "system"
	}
	mode, err := privacy.ParseMode(opts.PrivacyMode)
	if err != nil {
		return nil, err
	}
	if privacy.Masked(mode) {
		in.Backups = privacy.MaskBackups(in.Backups)
	}

	var warnings []string
	audits, err := store.ListAuditLogs(ctx, "", 0)
	if err != nil {
		warnings = append(warnings, "list audits failed: "+err.Error())
	}
	lastAuditHash := ""
	if len(audits) > 0 {
		lastAuditHash = audits[len(audits)-1].ChainHash
	}

	now := time.Now().Unix()
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir reports: %w", err)
	}
	name := strings.ReplaceAll(in.Device.String(), ":", "-")
	pdfPath := filepath.Join(reportDir, fmt.Sprintf("%s_device_%d.pdf", name, now))

	pdf, utf8OK := buildPDF(in, operator, opts.Note, lastAuditHash, warnings, now)
	if !utf8OK {
		warnings = append(warnings, "pdf utf8 font not available; non-ascii text may be replaced with '?'")
	}
	if err := pdf.OutputFileAndClose(pdfPath); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	sum, _, err := hash.File(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("sha256 pdf: %w", err)
	}
	reportID, err := store.SaveReport(ctx, ReportType, pdfPath, sum, generatorVer, "ready")
	if err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}

	_ = store.AppendAudit(ctx, "", in.Device.String(), "export", ReportType, "success", operator, "devicereport.Generate", map[string]any{
		"pdf":          pdfPath,
		"pdf_sha256":   sum,
		"backup_count": len(in.Backups),
		"note":         strings.TrimSpace(opts.Note),
		"privacy_mode": mode,
		"warnings":     warnings,
	})

	return &Result{
		ReportID:    reportID,
		PDFPath:     pdfPath,
		PDFSHA256:   sum,
		Warnings:    warnings,
		GeneratedAt: now,
	}, nil
}

func buildPDF(in Input, operator, note, lastAuditHash string, warnings []string, generatedAt int64) (*gofpdf.Fpdf, bool) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(14, 14, 14)
	pdf.SetAutoPageBreak(true, 14)
	pdf.SetTitle("EEPROM Device Report", false)

	font, utf8OK := initUnicodeFont(pdf)
	w := &writer{pdf: pdf, font: font, utf8: utf8OK}

	pdf.AddPage()
	pdf.SetFont(font, "B", 16)
	pdf.CellFormat(0, 9, "EEPROM Device Report - "+in.Device.String(), "", 1, "L", false, 0, "")
	pdf.SetFont(font, "", 10)
	pdf.SetTextColor(60, 60, 60)
	pdf.CellFormat(0, 6, "Generated at: "+fmtTime(generatedAt), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Operator: "+safeText(operator, utf8OK), "", 1, "L", false, 0, "")
	if strings.TrimSpace(note) != "" {
		pdf.MultiCell(0, 5, "Note: "+safeText(note, utf8OK), "", "L", false)
	}
	if lastAuditHash != "" {
		w.kv("Audit Chain Head", lastAuditHash)
	}
	pdf.Ln(2)

	if len(warnings) > 0 {
		w.section("Warnings")
		w.lines(warnings)
	}

	w.section("1. Analysis")
	if a := in.Analysis; a == nil {
		w.empty()
	} else {
		name := "-"
		if a.Spec != nil {
			name = a.Spec.Name
		}
		w.kv("Adapter", name)
		w.kv("Chipset", a.ChipsetVersion)
		w.kv("EEPROM Size", fmt.Sprintf("%d bytes", a.Image.Size))
		o := a.Location.Offsets
		w.kv("Identity Window", fmt.Sprintf("0x%03X 0x%03X 0x%03X 0x%03X (%s, %s)", o.VIDLow, o.VIDHigh, o.PIDLow, o.PIDHigh, a.Location.Confidence, a.Location.Source))
		w.kv("Locked Identity", fmt.Sprintf("%v", a.HasLockedIdentity))
		w.kv("Compatible", fmt.Sprintf("%v", a.Verdict.Compatible))
		w.kv("Reason", a.Verdict.Reason)
		w.lines(prefixed("warning: ", a.Verdict.Warnings))
		w.lines(prefixed("recommend: ", a.Verdict.Recommendations))
	}
	pdf.Ln(2)

	w.section("2. Diagnosis")
	if d := in.Diagnosis; d == nil {
		w.empty()
	} else {
		w.kv("Diagnosis", strings.ToUpper(string(d.Diagnosis)))
		w.kv("Probes", fmt.Sprintf("detected=%v descriptors=%v read=%v write=%v vendor=%v",
			d.DeviceDetected, d.DescriptorsReadable, d.MemoryReadable, d.MemoryWritable, d.VendorCommandsResponsive))
		w.lines(prefixed("issue: ", d.Issues))
		w.lines(prefixed("recommend: ", d.Recommendations))
	}
	pdf.Ln(2)

	w.section("3. Recovery Methods")
	if len(in.Recovery) == 0 {
		w.empty()
	}
	for i, m := range in.Recovery {
		pdf.SetFont(font, "B", 10)
		pdf.SetTextColor(20, 20, 20)
		rate := "n/a"
		if m.SuccessRate > 0 {
			rate = fmt.Sprintf("%.0f%%", m.SuccessRate*100)
		}
		pdf.MultiCell(0, 5, fmt.Sprintf("%d. %s | %s | hardware=%v | success=%s", i+1, safeText(m.Name, utf8OK), m.Difficulty, m.RequiresHardware, rate), "", "L", false)
		w.lines(prefixed("  - ", m.Steps))
	}
	pdf.Ln(2)

	w.section("4. Backups")
	if len(in.Backups) == 0 {
		w.empty()
	}
	for _, b := range in.Backups {
		pdf.SetFont(font, "B", 10)
		pdf.SetTextColor(20, 20, 20)
		pdf.MultiCell(0, 5, fmt.Sprintf("%s | %s | %s | %d bytes", b.Backup.ID, b.Backup.Identity(), fmtTime(b.Backup.CreatedAt), b.Backup.DeclaredSize), "", "L", false)
		ls := []string{
			fmt.Sprintf("integrity: %s (%s)", b.Check.Status, b.Check.Details),
			"sha256: " + b.Check.CalculatedSHA256,
		}
		if b.Backup.SerialNumber != "" {
			ls = append(ls, "serial: "+b.Backup.SerialNumber)
		}
		if b.Backup.FilePath != "" {
			ls = append(ls, "file: "+b.Backup.FilePath)
		}
		w.lines(ls)
	}

	pdf.Ln(2)
	pdf.SetFont(font, "", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.MultiCell(0, 4.5, "Only backups with integrity=valid can be used for identity restore. Full images are available in the backup ZIP export.", "", "L", false)
	return pdf, utf8OK
}

type writer struct {
	pdf  *gofpdf.Fpdf
	font string
	utf8 bool
}

func (w *writer) section(title string) {
	w.pdf.SetFont(w.font, "B", 12)
	w.pdf.SetTextColor(0, 0, 0)
	w.pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
	w.pdf.SetDrawColor(200, 200, 200)
	w.pdf.Line(w.pdf.GetX(), w.pdf.GetY(), 196, w.pdf.GetY())
	w.pdf.Ln(2)
}

func (w *writer) kv(key, value string) {
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	w.pdf.SetFont(w.font, "B", 10)
	w.pdf.SetTextColor(30, 30, 30)
	w.pdf.CellFormat(38, 5.2, key+":", "", 0, "L", false, 0, "")
	w.pdf.SetFont(w.font, "", 10)
	w.pdf.SetTextColor(20, 20, 20)
	w.pdf.MultiCell(0, 5.2, safeText(value, w.utf8), "", "L", false)
}

func (w *writer) lines(ls []string) {
	w.pdf.SetFont(w.font, "", 9)
	w.pdf.SetTextColor(40, 40, 40)
	for _, l := range ls {
		w.pdf.MultiCell(0, 4.5, safeText(l, w.utf8), "", "L", false)
	}
}

func (w *writer) empty() {
	w.pdf.SetFont(w.font, "", 10)
	w.pdf.SetTextColor(90, 90, 90)
	w.pdf.MultiCell(0, 5, "(empty)", "", "L", false)
}

func prefixed(p string, ls []string) []string {
	out := make([]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, p+l)
	}
	return out
}

func fmtTime(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}

// safeText 去掉控制字符；没有 UTF-8 字体时把非 ASCII 替换为 '?'。
func safeText(s string, utf8OK bool) string {
	s = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(s)
	s = strings.TrimSpace(s)
	if utf8OK {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r <= 126 {
			b.WriteRune(r)
		} else {
			b.WriteRune('?')
		}
	}
	return b.String()
}

// initUnicodeFont 按 EEPROM_PDF_FONT 和常见系统字体路径尝试加载 UTF-8 字体，失败回退 Helvetica。
func initUnicodeFont(pdf *gofpdf.Fpdf) (family string, utf8OK bool) {
	const familyName = "unicode"
	var candidates []string
	if v := strings.TrimSpace(os.Getenv("EEPROM_PDF_FONT")); v != "" {
		candidates = append(candidates, v)
	}
	switch runtime.GOOS {
	case "darwin":
		candidates = append(candidates,
			"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
			"/System/Library/Fonts/PingFang.ttc",
		)
	case "windows":
		candidates = append(candidates,
			`C:\Windows\Fonts\arialuni.ttf`,
			`C:\Windows\Fonts\msyh.ttc`,
		)
	default:
		candidates = append(candidates,
			"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
			"/usr/share/fonts/truetype/noto/NotoSansCJK-Regular.ttc",
		)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		pdf.AddUTF8Font(familyName, "", p)
		if pdf.Err() {
			pdf.ClearError()
			continue
		}
		pdf.AddUTF8Font(familyName, "B", p)
		if pdf.Err() {
			pdf.ClearError()
		}
		return familyName, true
	}
	return "Helvetica", false
}
