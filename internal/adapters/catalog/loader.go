package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"eeprom-spoofer/internal/domain/model"

	"gopkg.in/yaml.v3"
)

// BundleType 是适配器目录文件的固定类型标识。
const BundleType = "adapter_catalog"

// Bundle 是 YAML 目录文件的结构。
type Bundle struct {
	Version    string  `yaml:"version"`
	BundleType string  `yaml:"bundle_type"`
	Adapters   []Entry `yaml:"adapters"`
}

// Entry 是目录中的一条适配器定义；identity 写作 "0B95:772B"。
type Entry struct {
	ID              string                 `yaml:"id"`
	Identity        string                 `yaml:"identity"`
	Name            string                 `yaml:"name"`
	ChipsetFamily   string                 `yaml:"chipset_family"`
	ChipsetVersion  string                 `yaml:"chipset_version"`
	Tech            model.EEPROMTech       `yaml:"eeprom_tech"`
	EEPROMSize      int                    `yaml:"eeprom_size"`
	Offsets         *model.IdentityOffsets `yaml:"offsets"`
	ChecksumOffset  *int                   `yaml:"checksum_offset"`
	MACOffset       *int                   `yaml:"mac_offset"`
	Level           model.CompatLevel      `yaml:"compatibility"`
	HostWhitelisted bool                   `yaml:"host_whitelisted"`
	Quirks          []string               `yaml:"quirks"`
	RecoveryNotes   []string               `yaml:"recovery_notes"`
}

// Loader 负责从磁盘读取并校验适配器目录。
type Loader struct {
	File string
}

// Loaded 是加载后的适配器定义和文件哈希，用于留痕与版本确认。
type Loaded struct {
	Version string
	Specs   []model.AdapterSpec
	SHA256  string
}

func NewLoader(file string) *Loader {
	return &Loader{File: file}
}

// Load 读取目录文件并执行结构校验。
func (l *Loader) Load(ctx context.Context) (*Loaded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(l.File)
	if err != nil {
		return nil, fmt.Errorf("read adapter catalog: %w", err)
	}
	return Parse(raw)
}

// Parse 解析并校验目录内容。
func Parse(raw []byte) (*Loaded, error) {
	var bundle Bundle
	if err := yaml.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("parse adapter catalog: %w", err)
	}
	specs, err := validate(bundle)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(raw)
	return &Loaded{
		Version: bundle.Version,
		Specs:   specs,
		SHA256:  hex.EncodeToString(sum[:]),
	}, nil
}

var externalSizes = map[model.EEPROMTech]int{
	model.TechExternal93C46: 128,
	model.TechExternal93C56: 256,
	model.TechExternal93C66: 512,
}

// validate 检查目录完整性、唯一性与偏移合法性，并转换为 AdapterSpec。
func validate(bundle Bundle) ([]model.AdapterSpec, error) {
	if strings.TrimSpace(bundle.Version) == "" {
		return nil, errors.New("adapter catalog: version is required")
	}
	if bundle.BundleType != BundleType {
		return nil, fmt.Errorf("adapter catalog: bundle_type must be %q", BundleType)
	}
	if len(bundle.Adapters) == 0 {
		return nil, errors.New("adapter catalog: adapters is empty")
	}

	seenID := make(map[string]struct{}, len(bundle.Adapters))
	seenIdentity := make(map[model.Identity]string, len(bundle.Adapters))
	specs := make([]model.AdapterSpec, 0, len(bundle.Adapters))
	for _, e := range bundle.Adapters {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, errors.New("adapter catalog: adapter id is required")
		}
		if _, ok := seenID[id]; ok {
			return nil, fmt.Errorf("adapter catalog: duplicate adapter id: %s", id)
		}
		seenID[id] = struct{}{}

		identity, err := model.ParseIdentity(e.Identity)
		if err != nil {
			return nil, fmt.Errorf("adapter catalog: %s: %w", id, err)
		}
		if prev, ok := seenIdentity[identity]; ok {
			return nil, fmt.Errorf("adapter catalog: %s duplicates identity %s of %s", id, identity, prev)
		}
		seenIdentity[identity] = id

		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("adapter catalog: adapter name is required: %s", id)
		}

		spec := model.AdapterSpec{
			ID:              id,
			Identity:        identity,
			Name:            e.Name,
			ChipsetFamily:   e.ChipsetFamily,
			ChipsetVersion:  e.ChipsetVersion,
			Tech:            e.Tech,
			EEPROMSize:      e.EEPROMSize,
			ChecksumOffset:  e.ChecksumOffset,
			MACOffset:       e.MACOffset,
			Level:           e.Level,
			HostWhitelisted: e.HostWhitelisted,
			Quirks:          e.Quirks,
			RecoveryNotes:   e.RecoveryNotes,
		}
		switch spec.Level {
		case model.CompatHigh, model.CompatMedium, model.CompatLow, model.CompatIncompatible:
		default:
			return nil, fmt.Errorf("adapter catalog: %s: invalid compatibility %q", id, e.Level)
		}

		if spec.Tech.IsEFuse() {
			if e.Offsets != nil || e.ChecksumOffset != nil {
				return nil, fmt.Errorf("adapter catalog: %s: efuse adapter must not declare writable offsets", id)
			}
			spec.Level = model.CompatIncompatible
			specs = append(specs, spec)
			continue
		}

		size, ok := externalSizes[spec.Tech]
		if !ok {
			return nil, fmt.Errorf("adapter catalog: %s: unknown eeprom_tech %q", id, e.Tech)
		}
		if spec.EEPROMSize == 0 {
			spec.EEPROMSize = size
		}
		if spec.EEPROMSize != size {
			return nil, fmt.Errorf("adapter catalog: %s: eeprom_size %d does not match %s", id, spec.EEPROMSize, spec.Tech)
		}
		spec.Offsets = model.CanonicalOffsets
		if e.Offsets != nil {
			spec.Offsets = *e.Offsets
		}
		for _, off := range spec.Offsets.Slice() {
			if off < 0 || off >= spec.EEPROMSize {
				return nil, fmt.Errorf("adapter catalog: %s: identity offset 0x%X outside eeprom", id, off)
			}
		}
		if c := spec.ChecksumOffset; c != nil && (*c < 0 || *c+1 >= spec.EEPROMSize) {
			return nil, fmt.Errorf("adapter catalog: %s: checksum offset 0x%X outside eeprom", id, *c)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
