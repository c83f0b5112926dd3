package webapp

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/adapters/usbprobe"
	"eeprom-spoofer/internal/app"
	"eeprom-spoofer/internal/platform/logging"
	"eeprom-spoofer/internal/platform/metrics"
	"eeprom-spoofer/internal/services/analyzer"
	"eeprom-spoofer/internal/services/backupstore"
	"eeprom-spoofer/internal/services/diagnostics"
	"eeprom-spoofer/internal/services/registry"
)

// 前端 build 输出拷贝到 ui_dist/，二进制即可离线分发。
// ui_dist/ 至少要有一个文件，否则 go:embed 编译失败。
//
//go:embed ui_dist
var uiFS embed.FS

// Options 定义 Web UI + API 服务参数。本地单操作员使用，不做鉴权。
type Options struct {
	Config   app.Config
	Registry *registry.Registry
	// Open 打开设备会话；nil 时所有设备接口返回 Connection 错误。
	Open    transport.Opener
	Prober  *usbprobe.Prober
	Logger  logging.Logger
	Metrics *metrics.Collector
}

// New 在已迁移的数据库上组装服务。
func New(db *sql.DB, opts Options) (*Server, error) {
	defaults := app.DefaultConfig()
	if opts.Config.DBPath == "" {
		opts.Config.DBPath = defaults.DBPath
	}
	if opts.Config.BackupDir == "" {
		opts.Config.BackupDir = defaults.BackupDir
	}
	if opts.Config.ReportDir == "" {
		opts.Config.ReportDir = defaults.ReportDir
	}
	if opts.Config.ExportDir == "" {
		opts.Config.ExportDir = defaults.ExportDir
	}
	if opts.Registry == nil {
		opts.Registry = registry.Builtin()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	opts.Logger = logging.OrNop(opts.Logger)

	sub, err := fs.Sub(uiFS, "ui_dist")
	if err != nil {
		return nil, fmt.Errorf("sub ui fs: %w", err)
	}
	store := sqliteadapter.NewStore(db)
	return &Server{
		opts:     opts,
		store:    store,
		registry: opts.Registry,
		analyzer: analyzer.New(opts.Registry, analyzer.WithLogger(opts.Logger)),
		backups:  backupstore.New(store, opts.Config.BackupDir,
			backupstore.WithLogger(opts.Logger),
			backupstore.WithMetrics(opts.Metrics),
			backupstore.WithActor("operator", "webapp"),
		),
		diag:   diagnostics.New(
			diagnostics.WithCatalog(opts.Registry),
			diagnostics.WithLogger(opts.Logger),
			diagnostics.WithMetrics(opts.Metrics),
		),
		device: &deviceSession{open: opts.Open},
		ui:     sub,
		jobs:   newJobManager(),
	}, nil
}

// Run 启动内置 Web UI/API，ctx 结束时优雅关闭。
func Run(ctx context.Context, opts Options) error {
	if opts.Config.DBPath == "" {
		opts.Config.DBPath = app.DefaultConfig().DBPath
	}
	if opts.Config.ListenAddr == "" {
		opts.Config.ListenAddr = app.DefaultConfig().ListenAddr
	}
	db, err := sqliteadapter.Open(ctx, opts.Config.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := New(db, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	httpServer := &http.Server{
		Addr:              opts.Config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("webapp listening: http://%s\n", opts.Config.ListenAddr)
	err = httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
