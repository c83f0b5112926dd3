// Package registry 是适配器兼容性注册表：按 (VID, PID) 查表，给出兼容性结论。
//
// 内置表在构建期固定；可叠加一份经校验的 YAML 目录（同身份条目以目录为准）。
// 所有操作无副作用。
package registry

import (
	"fmt"
	"sort"

	"eeprom-spoofer/internal/adapters/catalog"
	"eeprom-spoofer/internal/domain/model"
)

// Registry 是只读的适配器表。
type Registry struct {
	specs         []model.AdapterSpec
	index         map[model.Identity]int
	catalogSHA256 string
	catalogVer    string
}

// New 用给定条目构造注册表；重复身份以后出现者为准。
func New(specs ...model.AdapterSpec) *Registry {
	r := &Registry{index: make(map[model.Identity]int, len(specs))}
	for _, s := range specs {
		r.put(s)
	}
	return r
}

// Builtin 返回只包含内置表的注册表。
func Builtin() *Registry {
	return New(builtinSpecs()...)
}

func (r *Registry) put(s model.AdapterSpec) {
	if i, ok := r.index[s.Identity]; ok {
		r.specs[i] = s
		return
	}
	r.index[s.Identity] = len(r.specs)
	r.specs = append(r.specs, s)
}

// WithOverlay 返回叠加了目录条目的新注册表，原注册表不变。
func (r *Registry) WithOverlay(loaded *catalog.Loaded) *Registry {
	out := New(r.specs...)
	out.catalogSHA256 = r.catalogSHA256
	out.catalogVer = r.catalogVer
	if loaded == nil {
		return out
	}
	for _, s := range loaded.Specs {
		out.put(s)
	}
	out.catalogSHA256 = loaded.SHA256
	out.catalogVer = loaded.Version
	return out
}

// Catalog 返回叠加目录的版本与 sha256（未叠加时为空）。
func (r *Registry) Catalog() (version, sha256 string) {
	return r.catalogVer, r.catalogSHA256
}

// Lookup 返回条目副本。
func (r *Registry) Lookup(vendorID, productID uint16) (*model.AdapterSpec, bool) {
	i, ok := r.index[model.Identity{VendorID: vendorID, ProductID: productID}]
	if !ok {
		return nil, false
	}
	s := r.specs[i]
	return &s, true
}

// All 返回全部条目，按身份排序。
func (r *Registry) All() []model.AdapterSpec {
	out := make([]model.AdapterSpec, len(r.specs))
	copy(out, r.specs)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity.String() < out[j].Identity.String()
	})
	return out
}

// Whitelisted 返回宿主白名单中的身份（可作为改写目标）。
func (r *Registry) Whitelisted() []model.AdapterSpec {
	var out []model.AdapterSpec
	for _, s := range r.All() {
		if s.HostWhitelisted {
			out = append(out, s)
		}
	}
	return out
}

// CompatibilityReport 给出兼容性结论。未知身份不报错，返回 incompatible + "not tested"；
// eFuse 条目先于其它规则直接判定不兼容。
func (r *Registry) CompatibilityReport(vendorID, productID uint16) model.CompatibilityReport {
	identity := model.Identity{VendorID: vendorID, ProductID: productID}
	spec, ok := r.Lookup(vendorID, productID)
	if !ok {
		return model.CompatibilityReport{
			Identity:        identity,
			Compatible:      false,
			Level:           model.CompatIncompatible,
			Reason:          fmt.Sprintf("adapter %s not tested", identity),
			Recommendations: []string{"use an adapter listed in the compatibility registry"},
		}
	}

	if spec.Tech.IsEFuse() {
		return model.CompatibilityReport{
			Identity:        identity,
			Compatible:      false,
			Level:           model.CompatIncompatible,
			Reason:          fmt.Sprintf("%s stores its identity in eFuse and cannot be reprogrammed", spec.Name),
			Recommendations: []string{"use an adapter with an external EEPROM"},
		}
	}

	rep := model.CompatibilityReport{
		Identity: identity,
		Level:    spec.Level,
		Warnings: append([]string(nil), spec.Quirks...),
	}
	switch spec.Level {
	case model.CompatIncompatible:
		rep.Reason = fmt.Sprintf("%s is marked incompatible", spec.Name)
		return rep
	case model.CompatMedium:
		rep.Warnings = append(rep.Warnings, "limited testing on this adapter")
	case model.CompatLow:
		rep.Warnings = append(rep.Warnings, "experimental support; failure may require hardware recovery")
	}

	rep.Compatible = true
	rep.Reason = fmt.Sprintf("%s (%s) supported", spec.Name, spec.ChipsetVersion)
	if spec.HostWhitelisted {
		rep.Recommendations = append(rep.Recommendations, "adapter is already accepted by the host; spoofing is not required")
	}
	rep.Recommendations = append(rep.Recommendations, "create and verify a backup before writing")
	return rep
}
