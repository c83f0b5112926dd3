// Package privacy 提供对外材料（PDF 报告、导出包）的展示层脱敏。
// 只改副本，不修改数据库原始记录。
package privacy

import (
	"fmt"
	"path/filepath"
	"strings"

	"eeprom-spoofer/internal/domain/model"
)

// 脱敏模式。
const (
	ModeOff    = "off"
	ModeMasked = "masked"
)

// ParseMode 校验模式字符串，空串视为 off。
func ParseMode(mode string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(mode)); m {
	case "", ModeOff:
		return ModeOff, nil
	case ModeMasked:
		return ModeMasked, nil
	default:
		return "", fmt.Errorf("invalid privacy mode %q (want off|masked)", mode)
	}
}

// Masked 报告 mode 是否要求脱敏。
func Masked(mode string) bool {
	return strings.EqualFold(strings.TrimSpace(mode), ModeMasked)
}

// MaskPath 把绝对路径压缩为文件名，避免暴露用户名与目录结构。
func MaskPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Base(p)
}

// MaskSerial 只保留序列号末 4 位。
func MaskSerial(serial string) string {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return ""
	}
	if len(serial) <= 4 {
		return "<masked>"
	}
	return strings.Repeat("*", len(serial)-4) + serial[len(serial)-4:]
}

// MaskBackup 返回脱敏后的备份副本；载荷与摘要保持不变，完整性仍可复核。
func MaskBackup(b model.Backup) model.Backup {
	b.SerialNumber = MaskSerial(b.SerialNumber)
	b.FilePath = MaskPath(b.FilePath)
	return b
}

// MaskBackups 对列表逐条脱敏。
func MaskBackups(list []model.BackupWithIntegrity) []model.BackupWithIntegrity {
	if len(list) == 0 {
		return nil
	}
	out := make([]model.BackupWithIntegrity, 0, len(list))
	for _, item := range list {
		item.Backup = MaskBackup(item.Backup)
		out = append(out, item)
	}
	return out
}
