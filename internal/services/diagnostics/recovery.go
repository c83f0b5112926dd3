package diagnostics

import "eeprom-spoofer/internal/domain/model"

// RecoveryMethods 返回固定的恢复手段目录，按侵入程度从低到高排列；
// 若给出 spec，其恢复备注追加为 easy、无需硬件的条目。
func RecoveryMethods(spec *model.AdapterSpec) []model.RecoveryMethod {
	out := []model.RecoveryMethod{
		{
			Name:       "Vendor soft reset",
			Difficulty: model.DifficultyEasy,
			Steps:      []string{
				"unplug the adapter and wait 10 seconds",
				"plug it directly into the host, without a hub",
				"send the vendor reset request and re-enumerate",
			},
			SuccessRate: 0.30,
		},
		{
			Name:       "Forced internal descriptor mode",
			Difficulty: model.DifficultyModerate,
			Steps:      []string{
				"hold the adapter unplugged",
				"boot the chipset without a valid EEPROM signature so it falls back to its internal descriptors",
				"once it enumerates with the factory identity, restore the identity from a verified backup",
			},
			SuccessRate: 0.55,
		},
		{
			Name:             "EEPROM bus short during power-up",
			Difficulty:       model.DifficultyHard,
			RequiresHardware: true,
			Steps:            []string{
				"open the adapter housing and locate the serial EEPROM",
				"short the data-out pin to ground with tweezers",
				"plug the adapter in while holding the short, then release after enumeration",
				"restore the identity from a verified backup",
			},
			SuccessRate: 0.75,
		},
		{
			Name:             "External programmer (CH341A)",
			Difficulty:       model.DifficultyExpert,
			RequiresHardware: true,
			Steps:            []string{
				"desolder the EEPROM or attach an SOIC-8 test clip",
				"read the chip with a CH341A programmer and keep the dump",
				"write the backup image exported from this tool",
				"verify the programmer read-back before reassembling",
			},
			SuccessRate: 0.95,
		},
	}
	if spec == nil {
		return out
	}
	for _, note := range spec.RecoveryNotes {
		out = append(out, model.RecoveryMethod{
			Name:       spec.Name + " note",
			Difficulty: model.DifficultyEasy,
			Steps:      []string{note},
		})
	}
	return out
}
