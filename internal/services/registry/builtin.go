package registry

import "eeprom-spoofer/internal/domain/model"

// builtinSpecs 返回内置适配器表的全新副本。
func builtinSpecs() []model.AdapterSpec {
	return []model.AdapterSpec{
		{
			ID:             "asix-ax88772b",
			Identity:       model.Identity{VendorID: 0x0B95, ProductID: 0x772B},
			Name:           "ASIX AX88772B USB 2.0 Ethernet",
			ChipsetFamily:  "AX88772",
			ChipsetVersion: "AX88772B",
			Tech:           model.TechExternal93C56,
			EEPROMSize:     256,
			Offsets:        model.CanonicalOffsets,
			Level:          model.CompatHigh,
			RecoveryNotes:  []string{"AX88772B falls back to internal defaults when the EEPROM CS line is held low at power-up."},
		},
		{
			ID:             "asix-ax88772a",
			Identity:       model.Identity{VendorID: 0x0B95, ProductID: 0x772A},
			Name:           "ASIX AX88772A USB 2.0 Ethernet",
			ChipsetFamily:  "AX88772",
			ChipsetVersion: "AX88772A",
			Tech:           model.TechExternal93C56,
			EEPROMSize:     256,
			Offsets:        model.CanonicalOffsets,
			Level:          model.CompatHigh,
		},
		{
			ID:             "asix-ax88772",
			Identity:       model.Identity{VendorID: 0x0B95, ProductID: 0x7720},
			Name:           "ASIX AX88772 USB 2.0 Ethernet",
			ChipsetFamily:  "AX88772",
			ChipsetVersion: "AX88772",
			Tech:           model.TechExternal93C56,
			EEPROMSize:     256,
			Offsets:        model.CanonicalOffsets,
			Level:          model.CompatMedium,
			Quirks:         []string{"first-generation silicon; some boards ship a 93C46 (128 bytes) without the identity block"},
		},
		{
			ID:             "asix-ax88772c",
			Identity:       model.Identity{VendorID: 0x0B95, ProductID: 0x772C},
			Name:           "ASIX AX88772C USB 2.0 Ethernet",
			ChipsetFamily:  "AX88772",
			ChipsetVersion: "AX88772C",
			Tech:           model.TechExternal93C56,
			EEPROMSize:     256,
			Offsets:        model.CanonicalOffsets,
			Level:          model.CompatMedium,
		},
		{
			ID:             "asix-ax88179",
			Identity:       model.Identity{VendorID: 0x0B95, ProductID: 0x1790},
			Name:           "ASIX AX88179 USB 3.0 Gigabit Ethernet",
			ChipsetFamily:  "AX88179",
			ChipsetVersion: "AX88179",
			Tech:           model.TechExternal93C66,
			EEPROMSize:     512,
			Offsets:        model.CanonicalOffsets,
			Level:          model.CompatLow,
			Quirks:         []string{"USB 3.0 hosts may re-enumerate before the write completes"},
			RecoveryNotes:  []string{"AX88179 boards without an EEPROM enumerate as 0B95:1790 from ROM defaults; removing the chip restores a known identity."},
		},
		{
			ID:             "asix-ax88179a",
			Identity:       model.Identity{VendorID: 0x0B95, ProductID: 0x178A},
			Name:           "ASIX AX88179A USB 3.0 Gigabit Ethernet",
			ChipsetFamily:  "AX88179",
			ChipsetVersion: "AX88179A",
			Tech:           model.TechEFuse,
			Level:          model.CompatIncompatible,
		},
		{
			ID:              "dlink-dub-e100-b1",
			Identity:        model.Identity{VendorID: 0x2001, ProductID: 0x3C05},
			Name:            "D-Link DUB-E100 rev B1",
			ChipsetFamily:   "AX88772",
			ChipsetVersion:  "AX88772",
			Tech:            model.TechExternal93C56,
			EEPROMSize:      256,
			Offsets:         model.CanonicalOffsets,
			Level:           model.CompatHigh,
			HostWhitelisted: true,
		},
		{
			ID:             "dlink-dub-e100-a",
			Identity:       model.Identity{VendorID: 0x2001, ProductID: 0x1A00},
			Name:           "D-Link DUB-E100 rev A",
			ChipsetFamily:  "AX88172",
			ChipsetVersion: "AX88172",
			Tech:           model.TechExternal93C46,
			EEPROMSize:     128,
			Offsets:        model.IdentityOffsets{VIDLow: 0x10, VIDHigh: 0x11, PIDLow: 0x12, PIDHigh: 0x13},
			Level:          model.CompatLow,
			Quirks:         []string{"USB 1.1 era layout; identity block is not at the AX88772 offsets"},
		},
		{
			ID:              "apple-usb-ethernet",
			Identity:        model.Identity{VendorID: 0x05AC, ProductID: 0x1402},
			Name:            "Apple USB Ethernet Adapter",
			ChipsetFamily:   "AX88772",
			ChipsetVersion:  "AX88772A",
			Tech:            model.TechExternal93C56,
			EEPROMSize:      256,
			Offsets:         model.CanonicalOffsets,
			Level:           model.CompatMedium,
			HostWhitelisted: true,
		},
		{
			ID:             "realtek-rtl8153",
			Identity:       model.Identity{VendorID: 0x0BDA, ProductID: 0x8153},
			Name:           "Realtek RTL8153 USB 3.0 Gigabit Ethernet",
			ChipsetFamily:  "RTL815x",
			ChipsetVersion: "RTL8153",
			Tech:           model.TechEFuse,
			Level:          model.CompatIncompatible,
			RecoveryNotes:  []string{"RTL8153 identity is fused at manufacture; use a different adapter."},
		},
	}
}
