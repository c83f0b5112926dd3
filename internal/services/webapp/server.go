package webapp

import (
	"io/fs"
	"net/http"
	"strings"

	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/services/analyzer"
	"eeprom-spoofer/internal/services/backupstore"
	"eeprom-spoofer/internal/services/diagnostics"
	"eeprom-spoofer/internal/services/registry"
)

// Server 是内置 Web UI/API 的运行时对象。
type Server struct {
	opts     Options
	store    *sqliteadapter.Store
	registry *registry.Registry
	analyzer *analyzer.Analyzer
	backups  *backupstore.Store
	diag     *diagnostics.Diagnostics
	device   *deviceSession

	ui   fs.FS
	jobs *jobManager
}

// Handler 返回完整路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Close 关闭设备会话。
func (s *Server) Close() error {
	return s.device.close()
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/meta", s.handleMeta)
	mux.HandleFunc("/api/registry", s.handleRegistry)
	mux.HandleFunc("/api/registry/", s.handleRegistryReport)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/preview", s.handlePreview)
	mux.HandleFunc("/api/diagnose", s.handleDiagnose)
	mux.HandleFunc("/api/recovery", s.handleRecovery)
	mux.HandleFunc("/api/backups", s.handleBackups)
	mux.HandleFunc("/api/backups/", s.handleBackupRoutes)
	mux.HandleFunc("/api/exports/backups-zip", s.handleExportZip)
	mux.HandleFunc("/api/exports/device-pdf", s.handleExportPDF)
	mux.HandleFunc("/api/reports", s.handleReports)
	mux.HandleFunc("/api/reports/", s.handleReportRoutes)
	mux.HandleFunc("/api/audits/verify", s.handleAuditVerify)
	mux.HandleFunc("/api/jobs/spoof", s.handleJobSpoof)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)
	mux.Handle("/metrics", s.opts.Metrics.Handler())

	// UI（单页应用 + 静态资源）：
	// 存在的文件直接返回；无扩展名的路径回落 index.html；缺失的静态资源 404。
	uiFileServer := http.FileServer(http.FS(s.ui))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.handleUI(w, r, uiFileServer)
	})
}

func (s *Server) handleUI(w http.ResponseWriter, r *http.Request, uiFileServer http.Handler) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	// 不要改写到 /index.html：FileServer 会把它 301 到 "./"。
	if r.URL.Path == "/" || r.URL.Path == "" {
		uiFileServer.ServeHTTP(w, r)
		return
	}

	reqPath := strings.TrimPrefix(r.URL.Path, "/")
	if info, err := fs.Stat(s.ui, reqPath); err == nil && !info.IsDir() {
		uiFileServer.ServeHTTP(w, r)
		return
	}
	if strings.Contains(reqPath, ".") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	uiFileServer.ServeHTTP(w, r2)
}
