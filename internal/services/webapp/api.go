package webapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/services/analyzer"
	"eeprom-spoofer/internal/services/auditverify"
	"eeprom-spoofer/internal/services/backupexport"
	"eeprom-spoofer/internal/services/backupstore"
	"eeprom-spoofer/internal/services/devicereport"
	"eeprom-spoofer/internal/services/diagnostics"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "webapp",
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if parseBool(r.URL.Query().Get("whitelisted"), false) {
		writeJSON(w, http.StatusOK, map[string]any{"adapters": s.registry.Whitelisted()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adapters": s.registry.All()})
}

// GET /api/registry/{VID:PID}
func (s *Server) handleRegistryReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ident, err := model.ParseIdentity(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/registry/"), "/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spec, _ := s.registry.Lookup(ident.VendorID, ident.ProductID)
	writeJSON(w, http.StatusOK, map[string]any{
		"report": s.registry.CompatibilityReport(ident.VendorID, ident.ProductID),
		"spec":   spec,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Prober == nil {
		writeJSON(w, http.StatusOK, map[string]any{"devices": []model.USBDevice{}})
		return
	}
	devices, err := s.opts.Prober.Discover(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var res *model.AnalysisResult
	err := s.device.with(r.Context(), func(t transport.Transport) error {
		a, err := s.analyzer.Analyze(r.Context(), t)
		if err != nil {
			return err
		}
		s.device.last = a
		res = a
		return nil
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type targetRequest struct {
	Target   string `json:"target"`
	DryRun   bool   `json:"dry_run"`
	Operator string `json:"operator,omitempty"`
}

func decodeTarget(r *http.Request) (targetRequest, model.Identity, error) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, model.Identity{}, fmt.Errorf("invalid json: %w", err)
	}
	target, err := model.ParseIdentity(req.Target)
	return req, target, err
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, target, err := decodeTarget(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	analysis := s.device.analysis()
	if analysis == nil {
		writeError(w, http.StatusConflict, errNoAnalysis)
		return
	}
	p, err := analyzer.Preview(analysis, target)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

var errNoAnalysis = errors.New("no analysis available; analyze the device first")

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var res model.DiagnosticResult
	err := s.device.with(r.Context(), func(t transport.Transport) error {
		res = s.diag.Diagnose(r.Context(), t)
		return nil
	})
	if err != nil && !fault.IsKind(err, fault.KindConnection) {
		writeFault(w, err)
		return
	}
	if err != nil {
		// 打不开设备本身就是一个诊断结论。
		res = s.diag.Diagnose(r.Context(), nil)
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/recovery[?identity=VID:PID]；未给出身份时使用最近分析的适配器。
func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var spec *model.AdapterSpec
	if v := strings.TrimSpace(r.URL.Query().Get("identity")); v != "" {
		ident, err := model.ParseIdentity(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		spec, _ = s.registry.Lookup(ident.VendorID, ident.ProductID)
	} else if a := s.device.analysis(); a != nil {
		spec = a.Spec
	}
	writeJSON(w, http.StatusOK, map[string]any{"methods": diagnostics.RecoveryMethods(spec)})
}

func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.backups.ListWithIntegrity(r.Context())
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"backups": list})
	case http.MethodPost:
		var b *model.Backup
		err := s.device.with(r.Context(), func(t transport.Transport) error {
			ident, err := t.CurrentIdentity(r.Context())
			if err != nil {
				return &fault.Error{Kind: fault.KindConnection, Op: "create backup", Message: "read device identity", Err: err}
			}
			dev := model.DeviceInfo{Identity: ident, Chipset: analyzer.ChipsetVersion(ident.ProductID)}
			if spec, ok := s.registry.Lookup(ident.VendorID, ident.ProductID); ok {
				dev.Name = spec.Name
			}
			b, err = s.backups.CreateBackup(r.Context(), t, dev)
			return err
		})
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// /api/backups/migrate
// /api/backups/{id}
// /api/backups/{id}/verify
// /api/backups/{id}/restore-identity
// /api/backups/{id}/download
func (s *Server) handleBackupRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/backups/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if parts[0] == "migrate" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rep, err := s.backups.MigrateLegacyDigests(r.Context())
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
		return
	}

	backupID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b, err := s.backups.Get(r.Context(), backupID)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"backup": b, "integrity": backupstore.VerifyIntegrity(*b)})
	case "verify":
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		res, err := s.backups.VerifyByID(r.Context(), backupID)
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "restore-identity":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var res *backupstore.RestoreResult
		err := s.device.with(r.Context(), func(t transport.Transport) error {
			var err error
			res, err = s.backups.RestoreIdentityOnly(r.Context(), t, backupID)
			if err == nil {
				s.device.last = nil
			}
			return err
		})
		if err != nil {
			writeFault(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case "download":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b, err := s.backups.Get(r.Context(), backupID)
		if err != nil {
			writeFault(w, err)
			return
		}
		if b.FilePath == "" {
			writeError(w, http.StatusNotFound, fmt.Errorf("backup %s has no binary copy", backupID))
			return
		}
		serveBackupCopy(w, r, *b)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type exportRequest struct {
	BackupIDs   []string `json:"backup_ids,omitempty"`
	Operator    string   `json:"operator,omitempty"`
	Note        string   `json:"note,omitempty"`
	PrivacyMode string   `json:"privacy_mode,omitempty"` // off|masked
}

func decodeExport(r *http.Request) (exportRequest, error) {
	var req exportRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid json: %w", err)
	}
	return req, nil
}

func (s *Server) handleExportZip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeExport(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := backupexport.Generate(r.Context(), s.store, s.backups, backupexport.Options{
		ExportDir:   s.opts.Config.ExportDir,
		BackupIDs:   req.BackupIDs,
		Operator:    req.Operator,
		Note:        req.Note,
		PrivacyMode: req.PrivacyMode,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/exports/device-pdf：基于最近一次分析生成设备报告，并附带诊断与恢复手段。
func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	req, err := decodeExport(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	in := devicereport.Input{}
	err = s.device.with(r.Context(), func(t transport.Transport) error {
		ident, err := t.CurrentIdentity(r.Context())
		if err != nil {
			return &fault.Error{Kind: fault.KindConnection, Op: "device report", Message: "read device identity", Err: err}
		}
		in.Device = ident
		in.Analysis = s.device.last
		d := s.diag.Diagnose(r.Context(), t)
		in.Diagnosis = &d
		return nil
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	if in.Analysis != nil {
		in.Recovery = diagnostics.RecoveryMethods(in.Analysis.Spec)
	} else {
		spec, _ := s.registry.Lookup(in.Device.VendorID, in.Device.ProductID)
		in.Recovery = diagnostics.RecoveryMethods(spec)
	}
	if in.Backups, err = s.backups.ListWithIntegrity(r.Context()); err != nil {
		writeFault(w, err)
		return
	}
	res, err := devicereport.Generate(r.Context(), s.store, in, devicereport.Options{
		ReportDir:   s.opts.Config.ReportDir,
		Operator:    req.Operator,
		Note:        req.Note,
		PrivacyMode: req.PrivacyMode,
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list, err := s.store.ListReports(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
}

// GET /api/reports/{id}/download
func (s *Server) handleReportRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reports/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[1] != "download" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reportID := parts[0]
	info, err := s.store.GetReportByID(r.Context(), reportID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("report not found: %s", reportID))
		return
	}
	serveReport(w, r, *info)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, err := auditverify.VerifyStore(r.Context(), s.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
	})
}

// writeFault 按错误类别选择状态码，并附带 kind/severity 供前端分级展示。
func writeFault(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, backupstore.ErrNotFound) {
		status = http.StatusNotFound
	}
	body := map[string]any{"error": err.Error()}
	var fe *fault.Error
	if errors.As(err, &fe) {
		body["kind"] = fe.Kind.String()
		body["severity"] = string(fe.Severity())
		switch fe.Kind {
		case fault.KindConnection:
			status = http.StatusServiceUnavailable
		case fault.KindIncompatible, fault.KindIntegrity:
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, body)
}

func parseBool(s string, def bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
