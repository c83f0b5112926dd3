package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"eeprom-spoofer/internal/adapters/catalog"
	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/adapters/usbprobe"
	"eeprom-spoofer/internal/app"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/command"
	"eeprom-spoofer/internal/platform/logging"
	"eeprom-spoofer/internal/platform/metrics"
	"eeprom-spoofer/internal/services/backupstore"
	"eeprom-spoofer/internal/services/registry"
)

// envFileVar 指定 .env 路径；未设置时读取工作目录下的 .env。
const envFileVar = "EEPROM_ENV_FILE"

// defaultSimIdentity 是 --simulate 且未指定 --device 时的模拟适配器。
var defaultSimIdentity = model.Identity{VendorID: 0x0B95, ProductID: 0x772B}

// options 是各子命令共享的参数。默认值 < .env < 环境变量 < 命令行。
type options struct {
	cfg      app.Config
	device   string
	operator string
}

func newFlagSet(name string) (*flag.FlagSet, *options, error) {
	envFile := strings.TrimSpace(os.Getenv(envFileVar))
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := app.LoadConfig(envFile)
	if err != nil {
		return nil, nil, err
	}

	o := &options{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&o.cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	fs.StringVar(&o.cfg.BackupDir, "backup-dir", cfg.BackupDir, "backup binary copy directory")
	fs.StringVar(&o.cfg.ReportDir, "report-dir", cfg.ReportDir, "pdf report directory")
	fs.StringVar(&o.cfg.ExportDir, "export-dir", cfg.ExportDir, "zip export directory")
	fs.StringVar(&o.cfg.CatalogPath, "catalog", cfg.CatalogPath, "adapter catalog overlay (yaml, optional)")
	fs.StringVar(&o.cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")
	fs.StringVar(&o.cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	fs.BoolVar(&o.cfg.Simulate, "simulate", cfg.Simulate, "use an in-memory AX88772B instead of real hardware")
	fs.StringVar(&o.device, "device", "", "device identity VID:PID (default: first known adapter)")
	fs.StringVar(&o.operator, "operator", "operator", "operator id or name")
	return fs, o, nil
}

// session 持有一次命令执行所需的数据库与服务。
type session struct {
	cfg      app.Config
	operator string
	device   string
	log      *slog.Logger
	db       *sql.DB
	store    *sqliteadapter.Store
	registry *registry.Registry
	metrics  *metrics.Collector
	backups  *backupstore.Store
}

func (o *options) open(ctx context.Context) (*session, error) {
	reg, err := loadRegistry(ctx, o.cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	db, err := sqliteadapter.Open(ctx, o.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	log := logging.New(os.Stderr, o.cfg.LogLevel)
	m := metrics.New()
	store := sqliteadapter.NewStore(db)
	return &session{
		cfg:      o.cfg,
		operator: o.operator,
		device:   o.device,
		log:      log,
		db:       db,
		store:    store,
		registry: reg,
		metrics:  m,
		backups:  backupstore.New(store, o.cfg.BackupDir,
			backupstore.WithLogger(log),
			backupstore.WithMetrics(m),
			backupstore.WithActor(o.operator, "cli"),
		),
	}, nil
}

func (s *session) Close() error {
	return s.db.Close()
}

// loadRegistry 返回内置注册表；path 非空时叠加 YAML 目录。
func loadRegistry(ctx context.Context, path string) (*registry.Registry, error) {
	reg := registry.Builtin()
	if strings.TrimSpace(path) == "" {
		return reg, nil
	}
	loaded, err := catalog.NewLoader(path).Load(ctx)
	if err != nil {
		return nil, err
	}
	return reg.WithOverlay(loaded), nil
}

// opener 根据 --simulate / --device 构造设备打开方式。
// 真实硬件且未指定 --device 时，取枚举到的第一个已知适配器。
func opener(ctx context.Context, cfg app.Config, device string, reg *registry.Registry) (transport.Opener, model.Identity, error) {
	var ident model.Identity
	if strings.TrimSpace(device) != "" {
		parsed, err := model.ParseIdentity(device)
		if err != nil {
			return nil, ident, fmt.Errorf("--device: %w", err)
		}
		ident = parsed
	}

	if cfg.Simulate {
		if ident.IsZero() {
			ident = defaultSimIdentity
		}
		return transport.SimulatedOpener(ident), ident, nil
	}

	if ident.IsZero() {
		devices, err := usbprobe.New(command.Local{}, reg).Discover(ctx)
		if err != nil {
			return nil, ident, err
		}
		for _, d := range devices {
			if d.Known {
				ident = d.Identity
				break
			}
		}
		if ident.IsZero() {
			return nil, ident, errors.New("no known adapter found; pass --device VID:PID or --simulate")
		}
	}
	size := 0
	if spec, ok := reg.Lookup(ident.VendorID, ident.ProductID); ok {
		size = spec.EEPROMSize
	}
	return transport.ASIXOpener(ident, size), ident, nil
}

// openDevice 打开本次命令使用的设备；调用方负责 Close。
func (s *session) openDevice(ctx context.Context) (transport.Transport, error) {
	open, ident, err := opener(ctx, s.cfg, s.device, s.registry)
	if err != nil {
		return nil, err
	}
	t, err := open(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Debug("device opened", "identity", ident.String(), "simulate", s.cfg.Simulate)
	return t, nil
}
