package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config 存放应用级路径与运行配置。
type Config struct {
	DBPath      string
	BackupDir   string
	ReportDir   string
	ExportDir   string
	CatalogPath string
	ListenAddr  string
	Simulate    bool
	LogLevel    string
}

// DefaultConfig 返回本地开发环境的默认配置。
func DefaultConfig() Config {
	return Config{
		DBPath:     "data/eeprom.db",
		BackupDir:  "data/backups",
		ReportDir:  "data/reports",
		ExportDir:  "data/exports",
		ListenAddr: "127.0.0.1:8787",
		LogLevel:   "info",
	}
}

// 环境变量名。
const (
	EnvDB        = "EEPROM_DB"
	EnvBackupDir = "EEPROM_BACKUP_DIR"
	EnvReportDir = "EEPROM_REPORT_DIR"
	EnvExportDir = "EEPROM_EXPORT_DIR"
	EnvCatalog   = "EEPROM_CATALOG"
	EnvListen    = "EEPROM_LISTEN"
	EnvSimulate  = "EEPROM_SIMULATE"
	EnvLogLevel  = "EEPROM_LOG_LEVEL"
)

// LoadConfig 依次叠加：默认值 < envFile（不存在则跳过）< 进程环境变量。
// 命令行参数由调用方最后覆盖。
func LoadConfig(envFile string) (Config, error) {
	cfg := DefaultConfig()

	fileVals := map[string]string{}
	if strings.TrimSpace(envFile) != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVals = vals
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}

	for key, dst := range map[string]*string{
		EnvDB:        &cfg.DBPath,
		EnvBackupDir: &cfg.BackupDir,
		EnvReportDir: &cfg.ReportDir,
		EnvExportDir: &cfg.ExportDir,
		EnvCatalog:   &cfg.CatalogPath,
		EnvListen:    &cfg.ListenAddr,
		EnvLogLevel:  &cfg.LogLevel,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := lookup(EnvSimulate); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvSimulate, err)
		}
		cfg.Simulate = b
	}
	return cfg, nil
}
