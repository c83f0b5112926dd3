package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MemoryImage 是一次从设备读出的 EEPROM 原始字节，只在一次分析/备份调用内有效。
type MemoryImage struct {
	Bytes []byte `json:"-"`
	Size  int    `json:"size"`
}

// Hex 返回小写十六进制表示（备份摘要即基于该字符串计算）。
func (m MemoryImage) Hex() string {
	return hex.EncodeToString(m.Bytes)
}

// Clone 深拷贝，避免写入流程与快照共享底层数组。
func (m MemoryImage) Clone() MemoryImage {
	b := make([]byte, len(m.Bytes))
	copy(b, m.Bytes)
	return MemoryImage{Bytes: b, Size: m.Size}
}

// Window 读取 4 个偏移处的字节；任一越界返回 false。
func (m MemoryImage) Window(o IdentityOffsets) ([4]byte, bool) {
	var out [4]byte
	for i, off := range o.Slice() {
		if off < 0 || off >= len(m.Bytes) {
			return out, false
		}
		out[i] = m.Bytes[off]
	}
	return out, true
}

// MemoryImageFromHex 把十六进制字符串解码为镜像，declaredSize 为 0 时取解码长度。
func MemoryImageFromHex(s string, declaredSize int) (MemoryImage, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return MemoryImage{}, fmt.Errorf("decode memory hex: %w", err)
	}
	if declaredSize <= 0 {
		declaredSize = len(raw)
	}
	return MemoryImage{Bytes: raw, Size: declaredSize}, nil
}

// Confidence 表示身份窗口定位的可信度。
type Confidence string

const (
	// ConfidenceHigh 注册表偏移或标准偏移处字节与设备自报身份一致。
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium 通过全镜像逐字节扫描找到。
	ConfidenceMedium Confidence = "medium"
	// ConfidenceLow 未找到，回退到标准偏移猜测。
	ConfidenceLow Confidence = "low"
)

// IdentityLocation 是身份窗口的位置与可信度。
type IdentityLocation struct {
	Offsets    IdentityOffsets `json:"offsets"`
	Confidence Confidence      `json:"confidence"`
	Source     string          `json:"source"` // registry|canonical|scan|fallback
}

// Verdict 是分析器给出的兼容性判定。
type Verdict struct {
	Compatible      bool     `json:"compatible"`
	Reason          string   `json:"reason"`
	Warnings        []string `json:"warnings,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// AnalysisResult 是一次 EEPROM 分析的完整结果，也是写入流程的入口契约。
type AnalysisResult struct {
	Device            Identity         `json:"device"`
	Image             MemoryImage      `json:"image"`
	Location          IdentityLocation `json:"location"`
	ChipsetVersion    string           `json:"chipset_version"`
	HasLockedIdentity bool             `json:"has_locked_identity"`
	ChecksumOffset    *int             `json:"checksum_offset,omitempty"`
	Verdict           Verdict          `json:"verdict"`
	Spec              *AdapterSpec     `json:"spec,omitempty"`
}

// ByteChange 是一次（计划或已执行的）单字节改写。
type ByteChange struct {
	Offset int  `json:"offset"`
	Old    byte `json:"old"`
	New    byte `json:"new"`
}

func (c ByteChange) String() string {
	return fmt.Sprintf("0x%03X: %02X -> %02X", c.Offset, c.Old, c.New)
}

// ByteMismatch 是回读校验时发现的不一致。
type ByteMismatch struct {
	Offset   int  `json:"offset"`
	Expected byte `json:"expected"`
	Actual   byte `json:"actual"`
}

func (m ByteMismatch) String() string {
	return fmt.Sprintf("0x%03X expected %02X got %02X", m.Offset, m.Expected, m.Actual)
}

// Preview 是改写前后的身份对比与 4 个字节变更。
type Preview struct {
	Before  string        `json:"before"`
	After   string        `json:"after"`
	Changes [4]ByteChange `json:"changes"`
}

// SpoofOutcome 是写入流程的结果。Changes 仅在 dry run 时填充。
type SpoofOutcome struct {
	SessionID          string       `json:"session_id"`
	Success            bool         `json:"success"`
	VerificationPassed bool         `json:"verification_passed"`
	NewIdentity        Identity     `json:"new_identity"`
	DryRun             bool         `json:"dry_run"`
	Changes            []ByteChange `json:"changes,omitempty"`
	BackupID           string       `json:"backup_id,omitempty"`
	RolledBack         bool         `json:"rolled_back,omitempty"`
}
