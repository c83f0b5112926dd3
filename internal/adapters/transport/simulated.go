package transport

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"eeprom-spoofer/internal/domain/model"
)

// WriteCall 记录一次写调用（无论成功与否）。
type WriteCall struct {
	Offset     int
	Value      byte
	SkipVerify bool
}

// Simulated 是内存中的 EEPROM 设备：离线演练（--simulate）和测试都用它。
// 支持故障注入：读越界、写失败、一次性回读篡改、厂商命令无响应、描述符损坏。
type Simulated struct {
	mu sync.Mutex

	identity model.Identity
	mem      []byte
	open     bool

	writes []WriteCall

	readLimit         int
	failWrites        map[int]error
	readOverrides     map[int]byte
	vendorDead        bool
	vendorMute        bool
	descriptorsBroken bool
	readsBroken       bool
	writesIgnored     map[int]bool
}

// NewSimulated 以给定身份与镜像创建一个已打开的模拟设备。
func NewSimulated(identity model.Identity, mem []byte) *Simulated {
	cp := make([]byte, len(mem))
	copy(cp, mem)
	return &Simulated{
		identity:      identity,
		mem:           cp,
		open:          true,
		failWrites:    map[int]error{},
		readOverrides: map[int]byte{},
		writesIgnored: map[int]bool{},
	}
}

// NewSimulatedAX88772B 生成一个典型 AX88772B 镜像（256 字节，身份位于标准偏移）。
func NewSimulatedAX88772B(identity model.Identity) *Simulated {
	mem := make([]byte, 256)
	for i := range mem {
		mem[i] = byte(i*7 + 3)
	}
	le := identity.LittleEndian()
	for i, off := range model.CanonicalOffsets.Slice() {
		mem[off] = le[i]
	}
	return NewSimulated(identity, mem)
}

// SetOpen 模拟拔插。
func (s *Simulated) SetOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = open
}

// LimitReads 让超过 limit 字节范围的读取失败（模拟较小容量的芯片）。
func (s *Simulated) LimitReads(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readLimit = limit
}

// BreakReads 让所有读取失败。
func (s *Simulated) BreakReads() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readsBroken = true
}

// FailWriteAt 让指定偏移的写入返回 err。
func (s *Simulated) FailWriteAt(offset int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites[offset] = err
}

// IgnoreWritesAt 写调用成功返回但内容不落地（写保护/坏块）。
func (s *Simulated) IgnoreWritesAt(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writesIgnored[offset] = true
}

// OverrideReadOnce 下一次读到该偏移时返回 value，之后恢复真实内容。
func (s *Simulated) OverrideReadOnce(offset int, value byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOverrides[offset] = value
}

// KillVendorCommands 让厂商命令无响应。
func (s *Simulated) KillVendorCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendorDead = true
}

// MuteVendorCommands 让厂商命令成功返回但不带数据。
func (s *Simulated) MuteVendorCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendorMute = true
}

// BreakDescriptors 让设备描述符不可读。
func (s *Simulated) BreakDescriptors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptorsBroken = true
}

// Writes 返回所有写调用的副本。
func (s *Simulated) Writes() []WriteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WriteCall, len(s.writes))
	copy(out, s.writes)
	return out
}

// Memory 返回当前镜像副本。
func (s *Simulated) Memory() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.mem))
	copy(out, s.mem)
	return out
}

func (s *Simulated) ReadBytes(_ context.Context, offset, length int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return "", ErrClosed
	}
	if s.readsBroken {
		return "", fmt.Errorf("sim: read 0x%03X: device did not respond", offset)
	}
	if offset < 0 || length <= 0 || offset+length > len(s.mem) {
		return "", fmt.Errorf("sim: read 0x%03X+%d out of range (size %d)", offset, length, len(s.mem))
	}
	if s.readLimit > 0 && offset+length > s.readLimit {
		return "", fmt.Errorf("sim: read 0x%03X+%d beyond chip size %d", offset, length, s.readLimit)
	}
	out := make([]byte, length)
	copy(out, s.mem[offset:offset+length])
	for i := range out {
		if v, ok := s.readOverrides[offset+i]; ok {
			out[i] = v
			delete(s.readOverrides, offset+i)
		}
	}
	return hex.EncodeToString(out), nil
}

func (s *Simulated) WriteByteAt(_ context.Context, offset int, value byte, skipVerify bool) (WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, WriteCall{Offset: offset, Value: value, SkipVerify: skipVerify})
	if !s.open {
		return WriteResult{}, ErrClosed
	}
	if err, ok := s.failWrites[offset]; ok {
		return WriteResult{}, err
	}
	if offset < 0 || offset >= len(s.mem) {
		return WriteResult{}, fmt.Errorf("sim: write 0x%03X out of range", offset)
	}
	if !s.writesIgnored[offset] {
		s.mem[offset] = value
	}
	return WriteResult{BytesWritten: 1, Verified: !skipVerify && s.mem[offset] == value}, nil
}

func (s *Simulated) DumpAll(ctx context.Context) (string, int, error) {
	s.mu.Lock()
	size := len(s.mem)
	if s.readLimit > 0 && s.readLimit < size {
		size = s.readLimit
	}
	s.mu.Unlock()
	h, err := s.ReadBytes(ctx, 0, size)
	if err != nil {
		return "", 0, err
	}
	return h, size, nil
}

// SendVendorCommand 对 ASIX 读 SROM 请求返回对应字，其它请求回显 request。
func (s *Simulated) SendVendorCommand(_ context.Context, request uint8, value, _ uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrClosed
	}
	if s.vendorDead {
		return nil, fmt.Errorf("sim: vendor request 0x%02X timed out", request)
	}
	if s.vendorMute {
		return nil, nil
	}
	if request == ReqReadSROM {
		off := int(value) * 2
		if off+1 < len(s.mem) {
			return []byte{s.mem[off], s.mem[off+1]}, nil
		}
		return nil, fmt.Errorf("sim: SROM word %d out of range", value)
	}
	return []byte{request}, nil
}

func (s *Simulated) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Simulated) CurrentIdentity(_ context.Context) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return model.Identity{}, ErrClosed
	}
	if s.descriptorsBroken {
		return model.Identity{}, fmt.Errorf("sim: get device descriptor: pipe error")
	}
	return s.identity, nil
}

func (s *Simulated) Close() error {
	s.SetOpen(false)
	return nil
}
