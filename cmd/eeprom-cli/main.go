package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"eeprom-spoofer/internal/adapters/catalog"
	sqliteadapter "eeprom-spoofer/internal/adapters/store/sqlite"
	"eeprom-spoofer/internal/adapters/usbprobe"
	"eeprom-spoofer/internal/app"
	"eeprom-spoofer/internal/domain/fault"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/command"
	"eeprom-spoofer/internal/platform/logging"
	"eeprom-spoofer/internal/platform/metrics"
	"eeprom-spoofer/internal/services/webapp"
)

// CLI 入口。所有子命令错误都统一输出到 stderr 并返回非 0 状态码。
func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		var fe *fault.Error
		if errors.As(err, &fe) {
			fmt.Fprintf(os.Stderr, "error: %v (kind=%s severity=%s)\n", err, fe.Kind, fe.Severity())
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run 是一级命令路由。
func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runMigrate(ctx, args[1:])
	case "devices":
		return runDevices(ctx, args[1:])
	case "registry":
		return runRegistry(ctx, args[1:])
	case "analyze":
		return runAnalyze(ctx, args[1:])
	case "preview":
		return runPreview(ctx, args[1:])
	case "spoof":
		return runSpoof(ctx, args[1:])
	case "backup":
		return runBackup(ctx, args[1:])
	case "diagnose":
		return runDiagnose(ctx, args[1:])
	case "recovery":
		return runRecovery(ctx, args[1:])
	case "report":
		return runReport(ctx, args[1:])
	case "verify":
		return runVerify(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	case "version":
		fmt.Printf("eeprom-cli version=%s commit=%s build_time=%s\n", app.Version, app.Commit, app.BuildTime)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// runMigrate 执行 SQLite 迁移，确保数据库结构完整。
func runMigrate(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("migrate")
	if err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := sqliteadapter.Open(ctx, o.cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := sqliteadapter.NewMigrator(db).Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("migrations applied successfully: db=%s\n", o.cfg.DBPath)
	for _, st := range status {
		fmt.Printf("version=%03d name=%s applied=%t checksum=%s\n", st.Version, st.Name, st.Applied, st.Checksum[:12])
	}
	return nil
}

// runDevices 枚举本机 USB 设备并标注是否为已知适配器。
func runDevices(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("devices")
	if err != nil {
		return err
	}
	asJSON := fs.Bool("json", false, "print json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg, err := loadRegistry(ctx, o.cfg.CatalogPath)
	if err != nil {
		return err
	}
	devices, err := usbprobe.New(command.Local{}, reg).Discover(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(devices)
	}
	fmt.Printf("devices total=%d\n", len(devices))
	for _, d := range devices {
		fmt.Printf("%s known=%t level=%s name=%q location=%q\n", d.Identity, d.Known, d.Level, d.Name, d.Location)
	}
	return nil
}

// runRegistry 是二级命令路由：list / report / validate。
func runRegistry(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printRegistryUsage()
		return nil
	}

	switch args[0] {
	case "list":
		return runRegistryList(ctx, args[1:])
	case "report":
		return runRegistryReport(ctx, args[1:])
	case "validate":
		return runRegistryValidate(ctx, args[1:])
	default:
		printRegistryUsage()
		return fmt.Errorf("unknown registry command: %s", args[0])
	}
}

func runRegistryList(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("registry list")
	if err != nil {
		return err
	}
	whitelisted := fs.Bool("whitelisted", false, "only adapters on the host whitelist")
	asJSON := fs.Bool("json", false, "print json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg, err := loadRegistry(ctx, o.cfg.CatalogPath)
	if err != nil {
		return err
	}
	specs := reg.All()
	if *whitelisted {
		specs = reg.Whitelisted()
	}
	if *asJSON {
		return printJSON(specs)
	}
	version, sha := reg.Catalog()
	fmt.Printf("registry total=%d catalog_version=%s catalog_sha256=%s\n", len(specs), orDash(version), orDash(sha))
	for _, s := range specs {
		fmt.Printf("%s %-13s %-15s %-12s whitelisted=%t name=%q\n", s.Identity, s.Level, s.Tech, s.ChipsetVersion, s.HostWhitelisted, s.Name)
	}
	return nil
}

func runRegistryReport(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("registry report")
	if err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: registry report VID:PID")
	}
	ident, err := model.ParseIdentity(fs.Arg(0))
	if err != nil {
		return err
	}
	reg, err := loadRegistry(ctx, o.cfg.CatalogPath)
	if err != nil {
		return err
	}
	return printJSON(reg.CompatibilityReport(ident.VendorID, ident.ProductID))
}

// runRegistryValidate 校验适配器目录文件，输出版本与哈希摘要。
func runRegistryValidate(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("registry validate")
	if err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(o.cfg.CatalogPath) == "" {
		return errors.New("--catalog is required")
	}
	loaded, err := catalog.NewLoader(o.cfg.CatalogPath).Load(ctx)
	if err != nil {
		return err
	}
	incompatible := 0
	for _, s := range loaded.Specs {
		if s.Level == model.CompatIncompatible {
			incompatible++
		}
	}
	fmt.Println("catalog validation passed")
	fmt.Printf("catalog: version=%s total=%d incompatible=%d sha256=%s\n", loaded.Version, len(loaded.Specs), incompatible, loaded.SHA256)
	return nil
}

// runServe 启动内置 Web UI/API。
func runServe(ctx context.Context, args []string) error {
	fs, o, err := newFlagSet("serve")
	if err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Ctrl+C 优雅退出。
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg, err := loadRegistry(sigCtx, o.cfg.CatalogPath)
	if err != nil {
		return err
	}
	open, ident, err := opener(sigCtx, o.cfg, o.device, reg)
	if err != nil {
		// 没有设备也能启动，设备接口返回 Connection 错误。
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		open = nil
	} else {
		fmt.Printf("device: %s simulate=%t\n", ident, o.cfg.Simulate)
	}
	return webapp.Run(sigCtx, webapp.Options{
		Config:   o.cfg,
		Registry: reg,
		Open:     open,
		Prober:   usbprobe.New(command.Local{}, reg),
		Logger:   logging.New(os.Stderr, o.cfg.LogLevel),
		Metrics:  metrics.New(),
	})
}

// printUsage 输出一级命令帮助。
func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eeprom-cli migrate [--db data/eeprom.db]")
	fmt.Println("  eeprom-cli devices [--json]")
	fmt.Println("  eeprom-cli registry list|report|validate")
	fmt.Println("  eeprom-cli analyze [--simulate] [--device VID:PID] [--json]")
	fmt.Println("  eeprom-cli preview --target VID:PID [--simulate] [--device VID:PID]")
	fmt.Println("  eeprom-cli spoof --target VID:PID [--dry-run] [--simulate] [--device VID:PID] [--operator name]")
	fmt.Println("  eeprom-cli backup create|list|verify|restore-identity|migrate-digests|export")
	fmt.Println("  eeprom-cli diagnose [--simulate] [--device VID:PID]")
	fmt.Println("  eeprom-cli recovery [--identity VID:PID]")
	fmt.Println("  eeprom-cli report pdf [--simulate] [--device VID:PID] [--note text]")
	fmt.Println("  eeprom-cli verify export-zip --zip PATH_TO_ZIP")
	fmt.Println("  eeprom-cli verify audits [--db data/eeprom.db] [--limit 0]")
	fmt.Println("  eeprom-cli serve [--listen 127.0.0.1:8787] [--simulate]")
	fmt.Println("  eeprom-cli version")
	fmt.Println()
	fmt.Println("Shared flags: --db --backup-dir --report-dir --export-dir --catalog --log-level --operator")
	fmt.Println("Defaults are read from .env (or $" + envFileVar + ") and EEPROM_* environment variables.")
	fmt.Println("With --simulate every command starts from a fresh in-memory adapter.")
}

func printRegistryUsage() {
	fmt.Println("Usage:")
	fmt.Println("  eeprom-cli registry list [--whitelisted] [--catalog path] [--json]")
	fmt.Println("  eeprom-cli registry report [--catalog path] VID:PID")
	fmt.Println("  eeprom-cli registry validate --catalog path")
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
