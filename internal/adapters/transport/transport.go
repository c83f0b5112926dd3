// Package transport 定义 EEPROM 传输层：读写单字节、整片转储、厂商命令。
//
// 同一时间只存在一个打开的会话，所有调用严格串行；会话对象由调用方持有并显式传入各组件。
package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"eeprom-spoofer/internal/domain/model"
)

// ErrClosed 表示会话未打开或已关闭。
var ErrClosed = errors.New("transport: device not open")

// WriteResult 是单字节写入的结果。
type WriteResult struct {
	BytesWritten int
	Verified     bool
}

// Transport 是 EEPROM 访问能力。WriteByteAt 一次只写一个字节：
// 设备协议只保证同一时刻一个在途操作。
type Transport interface {
	ReadBytes(ctx context.Context, offset, length int) (string, error)
	WriteByteAt(ctx context.Context, offset int, value byte, skipVerify bool) (WriteResult, error)
	DumpAll(ctx context.Context) (hexData string, size int, err error)
	SendVendorCommand(ctx context.Context, request uint8, value, index uint16) ([]byte, error)
	IsOpen() bool
	CurrentIdentity(ctx context.Context) (model.Identity, error)
	Close() error
}

// ReadByte 读取单个字节并解码。
func ReadByte(ctx context.Context, t Transport, offset int) (byte, error) {
	raw, err := ReadRaw(ctx, t, offset, 1)
	if err != nil {
		return 0, err
	}
	return raw[0], nil
}

// ReadRaw 调用 ReadBytes 并把十六进制结果解码为字节，长度不符视为错误。
func ReadRaw(ctx context.Context, t Transport, offset, length int) ([]byte, error) {
	h, err := t.ReadBytes(ctx, offset, length)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("decode read at 0x%03X: %w", offset, err)
	}
	if len(raw) != length {
		return nil, fmt.Errorf("short read at 0x%03X: got %d bytes, want %d", offset, len(raw), length)
	}
	return raw, nil
}
