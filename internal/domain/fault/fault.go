// Package fault 定义 EEPROM 流程中可区分的错误类别。
//
// 调用方通过 errors.As / IsKind 判断类别，而不是匹配错误文本。
package fault

import (
	"errors"
	"fmt"
	"strings"

	"eeprom-spoofer/internal/domain/model"
)

// Kind 是封闭的错误类别枚举。
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindConnection 没有打开的设备会话，什么都没做。
	KindConnection
	// KindIncompatible 熔丝身份 / 非标准内存布局 / 厂商不匹配，写入前拒绝。
	KindIncompatible
	// KindVerification 写后回读与目标不一致，会触发自动回滚。
	KindVerification
	// KindRollbackFailure 回滚失败：设备身份可能处于撕裂状态，需人工介入。
	KindRollbackFailure
	// KindIntegrity 备份校验（摘要/长度/格式）不通过，阻断身份恢复。
	KindIntegrity
	// KindStorage 备份持久化失败。
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindIncompatible:
		return "incompatible"
	case KindVerification:
		return "verification"
	case KindRollbackFailure:
		return "rollback_failure"
	case KindIntegrity:
		return "integrity"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Severity 区分普通失败与需要人工介入的失败。
type Severity string

const (
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error 是带结构化字段的领域错误。
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error

	// Mismatches 在 Verification / RollbackFailure 时给出逐字节差异。
	Mismatches []model.ByteMismatch
	// Status 在 Integrity 时给出备份的完整性状态。
	Status model.IntegrityStatus
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Mismatches) > 0 {
		parts := make([]string, 0, len(e.Mismatches))
		for _, m := range e.Mismatches {
			parts = append(parts, m.String())
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, &fault.Error{Kind: k}) 按类别匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Severity 回滚失败是最高级别。
func (e *Error) Severity() Severity {
	if e.Kind == KindRollbackFailure {
		return SeverityCritical
	}
	return SeverityError
}

// KindOf 返回错误链上第一个 *Error 的类别。
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind 判断错误链中是否存在指定类别。
func IsKind(err error, k Kind) bool {
	return errors.Is(err, &Error{Kind: k})
}

func Connection(op, msg string) *Error {
	return &Error{Kind: KindConnection, Op: op, Message: msg}
}

func Incompatible(op, reason string) *Error {
	return &Error{Kind: KindIncompatible, Op: op, Message: reason}
}

func Verification(op string, mismatches []model.ByteMismatch, err error) *Error {
	return &Error{
		Kind:       KindVerification,
		Op:         op,
		Message:    fmt.Sprintf("%d byte(s) did not match after write", len(mismatches)),
		Mismatches: mismatches,
		Err:        err,
	}
}

func RollbackFailure(op string, mismatches []model.ByteMismatch, err error) *Error {
	return &Error{
		Kind:       KindRollbackFailure,
		Op:         op,
		Message:    "device identity may be torn; manual recovery required",
		Mismatches: mismatches,
		Err:        err,
	}
}

func Integrity(op string, status model.IntegrityStatus, detail string) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Message: detail, Status: status}
}

func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Message: "persist backup", Err: err}
}
