package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity 是 USB 设备上报的 VID/PID 身份对。
type Identity struct {
	VendorID  uint16 `json:"vendor_id" yaml:"vendor_id"`
	ProductID uint16 `json:"product_id" yaml:"product_id"`
}

// String 返回 "0B95:772B" 形式，便于日志与 UI 展示。
func (i Identity) String() string {
	return fmt.Sprintf("%04X:%04X", i.VendorID, i.ProductID)
}

// IsZero 表示身份未读取到（或设备描述符为空）。
func (i Identity) IsZero() bool {
	return i.VendorID == 0 && i.ProductID == 0
}

// LittleEndian 返回身份在 EEPROM 中的 4 字节小端排列：
// VID-low, VID-high, PID-low, PID-high。
func (i Identity) LittleEndian() [4]byte {
	return [4]byte{
		byte(i.VendorID),
		byte(i.VendorID >> 8),
		byte(i.ProductID),
		byte(i.ProductID >> 8),
	}
}

// IdentityFromBytes 按小端规则从 4 字节还原身份。
func IdentityFromBytes(b [4]byte) Identity {
	return Identity{
		VendorID:  uint16(b[0]) | uint16(b[1])<<8,
		ProductID: uint16(b[2]) | uint16(b[3])<<8,
	}
}

// ParseIdentity 解析 "2001:3c05" / "0x2001:0x3C05" 形式的身份字符串。
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Identity{}, fmt.Errorf("invalid identity %q (expect VID:PID)", s)
	}
	vid, err := parseHex16(parts[0])
	if err != nil {
		return Identity{}, fmt.Errorf("invalid vendor id %q: %w", parts[0], err)
	}
	pid, err := parseHex16(parts[1])
	if err != nil {
		return Identity{}, fmt.Errorf("invalid product id %q: %w", parts[1], err)
	}
	return Identity{VendorID: vid, ProductID: pid}, nil
}

func parseHex16(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// EEPROMTech 表示身份存储介质。
type EEPROMTech string

const (
	// TechExternal93C46 外置 93C46（128 字节）。
	TechExternal93C46 EEPROMTech = "external-93c46"
	// TechExternal93C56 外置 93C56（256 字节）。
	TechExternal93C56 EEPROMTech = "external-93c56"
	// TechExternal93C66 外置 93C66（512 字节）。
	TechExternal93C66 EEPROMTech = "external-93c66"
	// TechEFuse 一次性可编程熔丝，身份不可改写。
	TechEFuse EEPROMTech = "efuse"
)

// IsEFuse 判断是否为熔丝存储。
func (t EEPROMTech) IsEFuse() bool {
	return t == TechEFuse
}

// CompatLevel 是适配器的兼容等级。
type CompatLevel string

const (
	CompatHigh         CompatLevel = "high"
	CompatMedium       CompatLevel = "medium"
	CompatLow          CompatLevel = "low"
	CompatIncompatible CompatLevel = "incompatible"
)

// IdentityOffsets 是 4 个身份字节在 EEPROM 中的偏移。
type IdentityOffsets struct {
	VIDLow  int `json:"vid_low" yaml:"vid_low"`
	VIDHigh int `json:"vid_high" yaml:"vid_high"`
	PIDLow  int `json:"pid_low" yaml:"pid_low"`
	PIDHigh int `json:"pid_high" yaml:"pid_high"`
}

// CanonicalOffsets 是 AX88772 系列最常见的身份窗口位置。
var CanonicalOffsets = IdentityOffsets{VIDLow: 0x88, VIDHigh: 0x89, PIDLow: 0x8A, PIDHigh: 0x8B}

// Slice 按写入顺序返回偏移（VID-low, VID-high, PID-low, PID-high）。
func (o IdentityOffsets) Slice() [4]int {
	return [4]int{o.VIDLow, o.VIDHigh, o.PIDLow, o.PIDHigh}
}

// IsZero 表示未声明偏移。
func (o IdentityOffsets) IsZero() bool {
	return o == IdentityOffsets{}
}

// AdapterSpec 是注册表中一条适配器定义（构建期固定，运行期只读）。
type AdapterSpec struct {
	ID              string          `json:"id" yaml:"id"`
	Identity        Identity        `json:"identity" yaml:"identity"`
	Name            string          `json:"name" yaml:"name"`
	ChipsetFamily   string          `json:"chipset_family" yaml:"chipset_family"`
	ChipsetVersion  string          `json:"chipset_version" yaml:"chipset_version"`
	Tech            EEPROMTech      `json:"eeprom_tech" yaml:"eeprom_tech"`
	EEPROMSize      int             `json:"eeprom_size" yaml:"eeprom_size"`
	Offsets         IdentityOffsets `json:"offsets" yaml:"offsets"`
	ChecksumOffset  *int            `json:"checksum_offset,omitempty" yaml:"checksum_offset,omitempty"`
	MACOffset       *int            `json:"mac_offset,omitempty" yaml:"mac_offset,omitempty"`
	Level           CompatLevel     `json:"compatibility" yaml:"compatibility"`
	HostWhitelisted bool            `json:"host_whitelisted" yaml:"host_whitelisted"`
	Quirks          []string        `json:"quirks,omitempty" yaml:"quirks,omitempty"`
	RecoveryNotes   []string        `json:"recovery_notes,omitempty" yaml:"recovery_notes,omitempty"`
}

// CompatibilityReport 是注册表对某个身份给出的兼容性结论。
type CompatibilityReport struct {
	Identity        Identity    `json:"identity"`
	Compatible      bool        `json:"compatible"`
	Level           CompatLevel `json:"level"`
	Reason          string      `json:"reason"`
	Warnings        []string    `json:"warnings,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// DeviceInfo 是备份记录所需的来源设备元数据。
type DeviceInfo struct {
	Identity Identity `json:"identity"`
	Name     string   `json:"name,omitempty"`
	Serial   string   `json:"serial,omitempty"`
	Chipset  string   `json:"chipset,omitempty"`
}

// USBDevice 是一次 USB 枚举中发现的设备。
type USBDevice struct {
	Identity     Identity `json:"identity"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Serial       string   `json:"serial,omitempty"`
	Location     string   `json:"location,omitempty"`
	Known        bool     `json:"known"`
	Level        string   `json:"level,omitempty"`
}
