package model

// IntegrityStatus 表示一份备份的可信等级。
type IntegrityStatus string

const (
	IntegrityValid     IntegrityStatus = "valid"
	IntegrityInvalid   IntegrityStatus = "invalid"
	IntegrityCorrupted IntegrityStatus = "corrupted"
	IntegrityUnknown   IntegrityStatus = "unknown"
)

// 备份记录 schema 版本：
// 1 = 早期仅 MD5 的记录；2 = MD5 + SHA-256 双摘要。
const (
	BackupSchemaLegacy  = 1
	BackupSchemaCurrent = 2
)

// Backup 是一份 EEPROM 全镜像备份（对应 backups 表）。
type Backup struct {
	ID            string          `json:"id"`
	SchemaVersion int             `json:"schema_version"`
	CreatedAt     int64           `json:"created_at"`
	DeviceName    string          `json:"device_name,omitempty"`
	VendorID      uint16          `json:"vendor_id"`
	ProductID     uint16          `json:"product_id"`
	Chipset       string          `json:"chipset,omitempty"`
	SerialNumber  string          `json:"serial_number,omitempty"`
	HexPayload    string          `json:"hex_payload"`
	DeclaredSize  int             `json:"declared_size"`
	MD5           string          `json:"md5,omitempty"`
	SHA256        string          `json:"sha256,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Status        IntegrityStatus `json:"status"`
	FilePath      string          `json:"file_path,omitempty"`
}

// Identity 返回备份来源设备的身份（元数据，不是载荷中的字节）。
func (b Backup) Identity() Identity {
	return Identity{VendorID: b.VendorID, ProductID: b.ProductID}
}

// IntegrityCheckResult 是一次备份完整性复核的明细。
type IntegrityCheckResult struct {
	BackupID         string          `json:"backup_id"`
	SizeValid        bool            `json:"size_valid"`
	FormatValid      bool            `json:"format_valid"`
	MD5Valid         bool            `json:"md5_valid"`
	SHA256Valid      bool            `json:"sha256_valid"`
	CalculatedMD5    string          `json:"calculated_md5"`
	ExpectedMD5      string          `json:"expected_md5,omitempty"`
	CalculatedSHA256 string          `json:"calculated_sha256"`
	ExpectedSHA256   string          `json:"expected_sha256,omitempty"`
	Details          string          `json:"details"`
	Status           IntegrityStatus `json:"status"`
}

// BackupWithIntegrity 是列表展示用的记录 + 实时完整性状态。
type BackupWithIntegrity struct {
	Backup Backup               `json:"backup"`
	Check  IntegrityCheckResult `json:"check"`
}
