// Package usbprobe 枚举本机已连接的 USB 设备，并按适配器注册表标注是否受支持。
//
// macOS 走 `ioreg -p IOUSB -l -a`（plist 输出），其他平台走 `lsusb`。
// 外部命令一律通过 command.Executor 执行。
package usbprobe

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"howett.net/plist"

	"eeprom-spoofer/internal/domain/model"
	"eeprom-spoofer/internal/platform/command"
)

// Catalog 是注册表查询能力。
type Catalog interface {
	Lookup(vendorID, productID uint16) (*model.AdapterSpec, bool)
}

// Prober 负责一次设备枚举。
type Prober struct {
	Exec    command.Executor
	Catalog Catalog
	GOOS    string
}

func New(exec command.Executor, catalog Catalog) *Prober {
	return &Prober{Exec: exec, Catalog: catalog, GOOS: runtime.GOOS}
}

// Discover 返回去重后的设备列表（已知适配器在前）。
func (p *Prober) Discover(ctx context.Context) ([]model.USBDevice, error) {
	var (
		devices []model.USBDevice
		err     error
	)
	switch p.GOOS {
	case "darwin":
		devices, err = p.discoverIOReg(ctx)
	case "linux":
		devices, err = p.discoverLSUSB(ctx)
	default:
		return nil, fmt.Errorf("usb discovery not supported on %s", p.GOOS)
	}
	if err != nil {
		return nil, err
	}

	out := make([]model.USBDevice, 0, len(devices))
	seen := map[string]bool{}
	for _, d := range devices {
		if d.Identity.IsZero() || d.Identity.VendorID == linuxRootHubVID {
			continue
		}
		key := d.Identity.String() + "|" + d.Serial + "|" + d.Location
		if seen[key] {
			continue
		}
		seen[key] = true
		if p.Catalog != nil {
			if spec, ok := p.Catalog.Lookup(d.Identity.VendorID, d.Identity.ProductID); ok {
				d.Known = true
				d.Level = string(spec.Level)
				if d.Name == "" {
					d.Name = spec.Name
				}
			}
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Known != out[j].Known {
			return out[i].Known
		}
		return out[i].Identity.String() < out[j].Identity.String()
	})
	return out, nil
}

const linuxRootHubVID = 0x1D6B

type ioregEntry struct {
	Name       string       `plist:"IORegistryEntryName"`
	VendorID   int64        `plist:"idVendor"`
	ProductID  int64        `plist:"idProduct"`
	Product    string       `plist:"USB Product Name"`
	Vendor     string       `plist:"USB Vendor Name"`
	Serial     string       `plist:"USB Serial Number"`
	LocationID int64        `plist:"locationID"`
	Children   []ioregEntry `plist:"IORegistryEntryChildren"`
}

func (p *Prober) discoverIOReg(ctx context.Context) ([]model.USBDevice, error) {
	res, err := p.Exec.Execute(ctx, "ioreg", "-p", "IOUSB", "-l", "-a")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("ioreg failed: %s", strings.TrimSpace(res.Output))
	}
	return ParseIORegPlist([]byte(res.Output))
}

// ParseIORegPlist 解析 ioreg -a 输出（根可能是字典或数组）。
func ParseIORegPlist(raw []byte) ([]model.USBDevice, error) {
	var roots []ioregEntry
	var root ioregEntry
	if _, err := plist.Unmarshal(raw, &root); err == nil {
		roots = []ioregEntry{root}
	} else if _, err2 := plist.Unmarshal(raw, &roots); err2 != nil {
		return nil, fmt.Errorf("parse ioreg plist: %w", err)
	}

	var out []model.USBDevice
	var walk func(e ioregEntry)
	walk = func(e ioregEntry) {
		if e.VendorID > 0 || e.ProductID > 0 {
			name := e.Product
			if name == "" {
				name = e.Name
			}
			d := model.USBDevice{
				Identity:     model.Identity{VendorID: uint16(e.VendorID), ProductID: uint16(e.ProductID)},
				Name:         name,
				Manufacturer: e.Vendor,
				Serial:       e.Serial,
			}
			if e.LocationID != 0 {
				d.Location = fmt.Sprintf("0x%08x", e.LocationID)
			}
			out = append(out, d)
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out, nil
}

func (p *Prober) discoverLSUSB(ctx context.Context) ([]model.USBDevice, error) {
	res, err := p.Exec.Execute(ctx, "lsusb")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("lsusb failed: %s", strings.TrimSpace(res.Output))
	}
	return ParseLSUSB(res.Output), nil
}

var lsusbLine = regexp.MustCompile(`^Bus (\d+) Device (\d+): ID ([0-9a-fA-F]{4}):([0-9a-fA-F]{4})\s*(.*)$`)

// ParseLSUSB 解析 lsusb 默认输出；无法识别的行忽略。
func ParseLSUSB(out string) []model.USBDevice {
	var devices []model.USBDevice
	for _, line := range strings.Split(out, "\n") {
		m := lsusbLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		vid, _ := strconv.ParseUint(m[3], 16, 16)
		pid, _ := strconv.ParseUint(m[4], 16, 16)
		devices = append(devices, model.USBDevice{
			Identity: model.Identity{VendorID: uint16(vid), ProductID: uint16(pid)},
			Name:     strings.TrimSpace(m[5]),
			Location: "bus " + m[1] + " dev " + m[2],
		})
	}
	return devices
}
