package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Layers(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "EEPROM_DB=/tmp/from-file.db\nEEPROM_LISTEN=0.0.0.0:9000\nEEPROM_SIMULATE=true\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv(EnvListen, "127.0.0.1:7000")

	cfg, err := LoadConfig(envFile)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBPath != "/tmp/from-file.db" {
		t.Fatalf("DBPath = %s", cfg.DBPath)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("process env should win, ListenAddr = %s", cfg.ListenAddr)
	}
	if !cfg.Simulate {
		t.Fatalf("Simulate should be true")
	}
	if cfg.BackupDir != DefaultConfig().BackupDir {
		t.Fatalf("unset keys keep defaults, BackupDir = %s", cfg.BackupDir)
	}
}

func TestLoadConfig_MissingFileIsFine(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DBPath != DefaultConfig().DBPath {
		t.Fatalf("DBPath = %s", cfg.DBPath)
	}
}

func TestLoadConfig_BadBool(t *testing.T) {
	t.Setenv(EnvSimulate, "maybe")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for invalid %s", EnvSimulate)
	}
}
