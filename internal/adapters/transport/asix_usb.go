package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"eeprom-spoofer/internal/domain/model"
)

// ASIX SROM 厂商请求。
const (
	ReqReadSROM     uint8 = 0x0B
	ReqWriteSROM    uint8 = 0x0C
	ReqWriteEnable  uint8 = 0x0D
	ReqWriteDisable uint8 = 0x0E
)

const (
	vendorIn  = uint8(gousb.ControlIn | gousb.ControlVendor | gousb.ControlDevice)
	vendorOut = uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)
)

// ErrNoDevice 表示指定 VID/PID 的设备不存在。
var ErrNoDevice = errors.New("transport: no matching usb device")

// ASIX 通过 USB 厂商控制请求访问 AX88772 系列外置 SROM。
// SROM 按 16 位字寻址，字内小端：偏移 2w 为低字节。
type ASIX struct {
	mu   sync.Mutex
	uctx *gousb.Context
	dev  *gousb.Device
	size int
	id   model.Identity
}

// OpenASIX 打开第一个匹配的设备；size 为 0 时默认 256 字节。
func OpenASIX(id model.Identity, size int) (*ASIX, error) {
	if size <= 0 {
		size = 256
	}
	uctx := gousb.NewContext()
	dev, err := uctx.OpenDeviceWithVIDPID(gousb.ID(id.VendorID), gousb.ID(id.ProductID))
	if err != nil {
		_ = uctx.Close()
		return nil, fmt.Errorf("open usb device %s: %w", id, err)
	}
	if dev == nil {
		_ = uctx.Close()
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, id)
	}
	dev.ControlTimeout = 2 * time.Second
	return &ASIX{
		uctx: uctx,
		dev:  dev,
		size: size,
		id:   model.Identity{VendorID: uint16(dev.Desc.Vendor), ProductID: uint16(dev.Desc.Product)},
	}, nil
}

func (a *ASIX) readWord(word int) ([2]byte, error) {
	var out [2]byte
	buf := make([]byte, 2)
	n, err := a.dev.Control(vendorIn, ReqReadSROM, uint16(word), 0, buf)
	if err != nil {
		return out, fmt.Errorf("srom read word %d: %w", word, err)
	}
	if n != 2 {
		return out, fmt.Errorf("srom read word %d: short transfer (%d bytes)", word, n)
	}
	out[0], out[1] = buf[0], buf[1]
	return out, nil
}

func (a *ASIX) writeWord(word int, w [2]byte) error {
	if _, err := a.dev.Control(vendorOut, ReqWriteEnable, 0, 0, nil); err != nil {
		return fmt.Errorf("srom write enable: %w", err)
	}
	val := uint16(w[0]) | uint16(w[1])<<8
	_, werr := a.dev.Control(vendorOut, ReqWriteSROM, uint16(word), val, nil)
	// 93Cxx 擦写周期约 10ms
	time.Sleep(15 * time.Millisecond)
	if _, err := a.dev.Control(vendorOut, ReqWriteDisable, 0, 0, nil); err != nil && werr == nil {
		werr = fmt.Errorf("srom write disable: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("srom write word %d: %w", word, werr)
	}
	return nil
}

func (a *ASIX) ReadBytes(ctx context.Context, offset, length int) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return "", ErrClosed
	}
	if offset < 0 || length <= 0 || offset+length > a.size {
		return "", fmt.Errorf("read 0x%03X+%d out of range (size %d)", offset, length, a.size)
	}
	out := make([]byte, 0, length+1)
	start := offset &^ 1
	for w := start / 2; w*2 < offset+length; w++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		b, err := a.readWord(w)
		if err != nil {
			return "", err
		}
		out = append(out, b[0], b[1])
	}
	skip := offset - start
	return hex.EncodeToString(out[skip : skip+length]), nil
}

func (a *ASIX) WriteByteAt(_ context.Context, offset int, value byte, skipVerify bool) (WriteResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return WriteResult{}, ErrClosed
	}
	if offset < 0 || offset >= a.size {
		return WriteResult{}, fmt.Errorf("write 0x%03X out of range (size %d)", offset, a.size)
	}
	word := offset / 2
	w, err := a.readWord(word)
	if err != nil {
		return WriteResult{}, err
	}
	w[offset%2] = value
	if err := a.writeWord(word, w); err != nil {
		return WriteResult{}, err
	}
	res := WriteResult{BytesWritten: 1}
	if !skipVerify {
		got, err := a.readWord(word)
		if err != nil {
			return res, err
		}
		res.Verified = got[offset%2] == value
	}
	return res, nil
}

func (a *ASIX) DumpAll(ctx context.Context) (string, int, error) {
	h, err := a.ReadBytes(ctx, 0, a.size)
	if err != nil {
		return "", 0, err
	}
	return h, a.size, nil
}

func (a *ASIX) SendVendorCommand(_ context.Context, request uint8, value, index uint16) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return nil, ErrClosed
	}
	buf := make([]byte, 8)
	n, err := a.dev.Control(vendorIn, request, value, index, buf)
	if err != nil {
		return nil, fmt.Errorf("vendor request 0x%02X: %w", request, err)
	}
	return buf[:n], nil
}

func (a *ASIX) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dev != nil
}

// CurrentIdentity 返回枚举时的设备描述符身份（改写 EEPROM 后需重新插拔才会变化）。
func (a *ASIX) CurrentIdentity(_ context.Context) (model.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev == nil {
		return model.Identity{}, ErrClosed
	}
	return a.id, nil
}

func (a *ASIX) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	if a.dev != nil {
		errs = append(errs, a.dev.Close())
		a.dev = nil
	}
	if a.uctx != nil {
		errs = append(errs, a.uctx.Close())
		a.uctx = nil
	}
	return errors.Join(errs...)
}
