package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"eeprom-spoofer/internal/adapters/catalog"
	"eeprom-spoofer/internal/adapters/transport"
	"eeprom-spoofer/internal/app"
	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/logging"
	"eeprom-spoofer/internal/services/registry"
	"eeprom-spoofer/internal/services/webapp"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// “desktop”入口：启动内置 Web UI/API 并自动打开浏览器。
// 不引入 webview 等 GUI 依赖，避免 CGO 与打包复杂度。
func run(ctx context.Context, args []string) error {
	cfg, err := app.LoadConfig(".env")
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("eeprom-desktop", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	fs.StringVar(&cfg.BackupDir, "backup-dir", cfg.BackupDir, "backup binary copy directory")
	fs.StringVar(&cfg.CatalogPath, "catalog", cfg.CatalogPath, "adapter catalog overlay (yaml, optional)")
	fs.BoolVar(&cfg.Simulate, "simulate", cfg.Simulate, "use an in-memory AX88772B instead of real hardware")
	device := fs.String("device", "0B95:772B", "device identity VID:PID")
	noOpen := fs.Bool("no-open", false, "do not auto-open browser")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ident, err := model.ParseIdentity(*device)
	if err != nil {
		return fmt.Errorf("--device: %w", err)
	}

	reg := registry.Builtin()
	if cfg.CatalogPath != "" {
		loaded, err := catalog.NewLoader(cfg.CatalogPath).Load(ctx)
		if err != nil {
			return err
		}
		reg = reg.WithOverlay(loaded)
	}
	open := transport.SimulatedOpener(ident)
	if !cfg.Simulate {
		size := 0
		if spec, ok := reg.Lookup(ident.VendorID, ident.ProductID); ok {
			size = spec.EEPROMSize
		}
		open = transport.ASIXOpener(ident, size)
	}

	// Ctrl+C 优雅退出：给 http.Server.Shutdown 一个机会释放端口。
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- webapp.Run(sigCtx, webapp.Options{
			Config:   cfg,
			Registry: reg,
			Open:     open,
			Logger:   logging.New(os.Stderr, cfg.LogLevel),
		})
	}()

	uiURL := "http://" + normalizeListenForBrowser(cfg.ListenAddr)
	if !*noOpen {
		_ = waitForHTTP(sigCtx, uiURL+"/api/health", 12*time.Second)
		_ = openBrowser(uiURL)
	}
	return <-serverErrCh
}

func normalizeListenForBrowser(listen string) string {
	// 127.0.0.1:8787 / 0.0.0.0:8787 / :8787 / [::]:8787
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func waitForHTTP(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for %s", url)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
