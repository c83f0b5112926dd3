package webapp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/app"
	"eeprom-spoofer/internal/domain/model"
)

func newTestServer(t *testing.T, open transport.Opener) *httptest.Server {
	t.Helper()
	tmp := t.TempDir()
	db, err := sqliteadapter.Open(context.Background(), filepath.Join(tmp, "eeprom.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := New(db, Options{
		Config: app.Config{
			DBPath:    filepath.Join(tmp, "eeprom.db"),
			BackupDir: filepath.Join(tmp, "backups"),
			ReportDir: filepath.Join(tmp, "reports"),
			ExportDir: filepath.Join(tmp, "exports"),
			Simulate:  true,
		},
		Open: open,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func waitJob(t *testing.T, base, jobID string) spoofJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var job spoofJob
		do(t, http.MethodGet, base+"/api/jobs/"+jobID, nil, &job)
		if job.Status != "running" {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return spoofJob{}
}

func TestSpoofFlow(t *testing.T) {
	source := model.Identity{VendorID: 0x0B95, ProductID: 0x772B}
	ts := newTestServer(t, transport.SimulatedOpener(source))

	var health map[string]any
	if code := do(t, http.MethodGet, ts.URL+"/api/health", nil, &health); code != http.StatusOK || health["ok"] != true {
		t.Fatalf("health: %d %v", code, health)
	}

	if code := do(t, http.MethodPost, ts.URL+"/api/preview", map[string]string{"target": "2001:3C05"}, nil); code != http.StatusConflict {
		t.Fatalf("preview before analyze should conflict, got %d", code)
	}

	var analysis model.AnalysisResult
	if code := do(t, http.MethodPost, ts.URL+"/api/analyze", nil, &analysis); code != http.StatusOK {
		t.Fatalf("analyze: %d", code)
	}
	if !analysis.Verdict.Compatible || analysis.Device != source {
		t.Fatalf("analysis: %+v", analysis)
	}

	var preview model.Preview
	if code := do(t, http.MethodPost, ts.URL+"/api/preview", map[string]string{"target": "2001:3C05"}, &preview); code != http.StatusOK {
		t.Fatalf("preview: %d", code)
	}
	if preview.After != "2001:3C05" {
		t.Fatalf("preview: %+v", preview)
	}

	var job spoofJob
	do(t, http.MethodPost, ts.URL+"/api/jobs/spoof", map[string]any{"target": "2001:3C05"}, &job)
	done := waitJob(t, ts.URL, job.JobID)
	if done.Status != "success" || done.Outcome == nil || !done.Outcome.VerificationPassed {
		t.Fatalf("job: %+v", done)
	}

	var list struct {
		Backups []model.BackupWithIntegrity `json:"backups"`
	}
	do(t, http.MethodGet, ts.URL+"/api/backups", nil, &list)
	if len(list.Backups) != 1 || list.Backups[0].Check.Status != model.IntegrityValid {
		t.Fatalf("backups: %+v", list)
	}

	// 写入后旧分析作废。
	if code := do(t, http.MethodPost, ts.URL+"/api/jobs/spoof", map[string]any{"target": "2001:3C05"}, nil); code != http.StatusConflict {
		t.Fatalf("spoof without fresh analysis should conflict, got %d", code)
	}

	var restored map[string]any
	if code := do(t, http.MethodPost, ts.URL+"/api/backups/"+list.Backups[0].Backup.ID+"/restore-identity", nil, &restored); code != http.StatusOK {
		t.Fatalf("restore: %d %v", code, restored)
	}
	if restored["verified"] != true {
		t.Fatalf("restore result: %v", restored)
	}

	var audit map[string]any
	do(t, http.MethodGet, ts.URL+"/api/audits/verify", nil, &audit)
	if audit["ok"] != true {
		t.Fatalf("audit chain: %v", audit)
	}
}

func TestErrorsCarryKind(t *testing.T) {
	ts := newTestServer(t, nil)

	var body map[string]any
	if code := do(t, http.MethodPost, ts.URL+"/api/analyze", nil, &body); code != http.StatusServiceUnavailable || body["kind"] != "connection" {
		t.Fatalf("analyze without device: %d %v", code, body)
	}

	var diag model.DiagnosticResult
	if code := do(t, http.MethodPost, ts.URL+"/api/diagnose", nil, &diag); code != http.StatusOK || diag.Diagnosis != model.DiagnosisUnknown {
		t.Fatalf("diagnose without device: %d %+v", code, diag)
	}
}

func TestDiagnoseSmallEEPROM(t *testing.T) {
	sim := transport.NewSimulated(model.Identity{VendorID: 0x2001, ProductID: 0x1A00}, make([]byte, 128))
	ts := newTestServer(t, func(context.Context) (transport.Transport, error) {
		sim.SetOpen(true)
		return sim, nil
	})

	var diag model.DiagnosticResult
	if code := do(t, http.MethodPost, ts.URL+"/api/diagnose", nil, &diag); code != http.StatusOK || diag.Diagnosis != model.DiagnosisHealthy {
		t.Fatalf("diagnose 93C46 adapter: %d %+v", code, diag)
	}
	if len(diag.Recommendations) == 0 {
		t.Fatalf("expected recommendations: %+v", diag)
	}
}

func TestRegistryAndRecovery(t *testing.T) {
	ts := newTestServer(t, nil)

	var rep struct {
		Report model.CompatibilityReport `json:"report"`
	}
	do(t, http.MethodGet, ts.URL+"/api/registry/0BDA:8153", nil, &rep)
	if rep.Report.Compatible {
		t.Fatalf("eFuse adapter must not be compatible: %+v", rep.Report)
	}

	var rec struct {
		Methods []model.RecoveryMethod `json:"methods"`
	}
	do(t, http.MethodGet, ts.URL+"/api/recovery?identity=0B95:772B", nil, &rec)
	if len(rec.Methods) < 4 {
		t.Fatalf("recovery methods: %d", len(rec.Methods))
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %v %v", resp, err)
	}
	resp.Body.Close()
}

func TestExports(t *testing.T) {
	ts := newTestServer(t, transport.SimulatedOpener(model.Identity{VendorID: 0x0B95, ProductID: 0x772B}))
	if code := do(t, http.MethodPost, ts.URL+"/api/backups", nil, nil); code != http.StatusOK {
		t.Fatalf("create backup: %d", code)
	}
	var body map[string]any
	if code := do(t, http.MethodPost, ts.URL+"/api/backups/bak_missing/restore-identity", nil, &body); code != http.StatusNotFound {
		t.Fatalf("restore unknown backup: %d %v", code, body)
	}
	var zipRes map[string]any
	if code := do(t, http.MethodPost, ts.URL+"/api/exports/backups-zip", nil, &zipRes); code != http.StatusOK {
		t.Fatalf("zip export: %d %v", code, zipRes)
	}
	var pdfRes map[string]any
	if code := do(t, http.MethodPost, ts.URL+"/api/exports/device-pdf", map[string]string{"operator": "tester"}, &pdfRes); code != http.StatusOK {
		t.Fatalf("pdf export: %d %v", code, pdfRes)
	}
	var reports struct {
		Reports []model.ReportInfo `json:"reports"`
	}
	do(t, http.MethodGet, ts.URL+"/api/reports", nil, &reports)
	if len(reports.Reports) != 2 {
		t.Fatalf("reports: %+v", reports)
	}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, buf.Bytes()
}

func TestDownloadsAreCheckedAgainstRecords(t *testing.T) {
	ts := newTestServer(t, transport.SimulatedOpener(model.Identity{VendorID: 0x0B95, ProductID: 0x772B}))
	var b model.Backup
	if code := do(t, http.MethodPost, ts.URL+"/api/backups", nil, &b); code != http.StatusOK || b.ID == "" {
		t.Fatalf("create backup: %d %+v", code, b)
	}

	code, body := get(t, ts.URL+"/api/backups/"+b.ID+"/download")
	if code != http.StatusOK || len(body) != 256 {
		t.Fatalf("backup download: %d len=%d", code, len(body))
	}
	if err := os.WriteFile(b.FilePath, make([]byte, 256), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if code, _ := get(t, ts.URL+"/api/backups/"+b.ID+"/download"); code != http.StatusConflict {
		t.Fatalf("tampered backup copy: %d", code)
	}

	var pdfRes map[string]any
	if code := do(t, http.MethodPost, ts.URL+"/api/exports/device-pdf", nil, &pdfRes); code != http.StatusOK {
		t.Fatalf("pdf export: %d %v", code, pdfRes)
	}
	var reports struct {
		Reports []model.ReportInfo `json:"reports"`
	}
	do(t, http.MethodGet, ts.URL+"/api/reports", nil, &reports)
	if len(reports.Reports) != 1 {
		t.Fatalf("reports: %+v", reports)
	}
	rep := reports.Reports[0]
	if code, _ := get(t, ts.URL+"/api/reports/"+rep.ReportID+"/download"); code != http.StatusOK {
		t.Fatalf("report download: %d", code)
	}
	if err := os.WriteFile(rep.FilePath, []byte("%PDF-edited"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if code, _ := get(t, ts.URL+"/api/reports/"+rep.ReportID+"/download"); code != http.StatusConflict {
		t.Fatalf("tampered report: %d", code)
	}
}
