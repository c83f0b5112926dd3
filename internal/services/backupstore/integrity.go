package backupstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/hash"
)

// VerifyIntegrity 重算双摘要并检查长度与格式。
//
// 摘要按存储的载荷原样计算（创建时即为小写十六进制）。
// 某一算法没有存储摘要时，该项视为通过，由另一算法把关；两项都缺失则为 unknown。
func VerifyIntegrity(b model.Backup) model.IntegrityCheckResult {
	payload := b.HexPayload
	res := model.IntegrityCheckResult{
		BackupID:       b.ID,
		SizeValid:      b.DeclaredSize > 0 && len(payload) == 2*b.DeclaredSize,
		FormatValid:    isHex(payload),
		ExpectedMD5:    b.MD5,
		ExpectedSHA256: b.SHA256,
	}
	res.CalculatedMD5 = hash.MD5Hex(payload)
	res.CalculatedSHA256 = hash.SHA256Hex(payload)
	res.MD5Valid = b.MD5 == "" || hash.Equal(res.CalculatedMD5, b.MD5)
	res.SHA256Valid = b.SHA256 == "" || hash.Equal(res.CalculatedSHA256, b.SHA256)

	var details []string
	if !res.SizeValid {
		details = append(details, fmt.Sprintf("payload is %d hex chars, declared size %d bytes", len(payload), b.DeclaredSize))
	}
	if !res.FormatValid {
		details = append(details, "payload contains non-hex characters")
	}
	if !res.MD5Valid {
		details = append(details, "md5 mismatch")
	}
	if !res.SHA256Valid {
		details = append(details, "sha256 mismatch")
	}
	if b.MD5 == "" {
		details = append(details, "no stored md5")
	}
	if b.SHA256 == "" {
		details = append(details, "no stored sha256")
	}

	switch {
	case !res.SizeValid || !res.FormatValid:
		res.Status = model.IntegrityCorrupted
	case b.MD5 == "" && b.SHA256 == "":
		res.Status = model.IntegrityUnknown
	case res.MD5Valid && res.SHA256Valid:
		res.Status = model.IntegrityValid
	default:
		res.Status = model.IntegrityInvalid
	}
	if len(details) == 0 {
		res.Details = "all checks passed"
	} else {
		res.Details = strings.Join(details, "; ")
	}
	return res
}

func isHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// ExtractIdentity 从载荷的标准身份窗口按小端规则还原 VID/PID。
func ExtractIdentity(b model.Backup) (model.Identity, error) {
	raw, err := hex.DecodeString(b.HexPayload)
	if err != nil {
		return model.Identity{}, fmt.Errorf("extract identity: decode payload: %w", err)
	}
	img := model.MemoryImage{Bytes: raw, Size: len(raw)}
	w, ok := img.Window(model.CanonicalOffsets)
	if !ok {
		return model.Identity{}, errors.New("extract identity: payload shorter than identity window")
	}
	return model.IdentityFromBytes(w), nil
}
