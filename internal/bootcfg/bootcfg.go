// Package bootcfg loads the boot manifest a platform loader would otherwise
// hand the kernel directly: the physical memory map, the page size/frame
// count the buddy allocator should be seeded with, the files to preload
// into the read-only file system, and the init process's argv/envp.
//
// Grounded on tinyrange-cc's cmd/ccapp/site_config.go (a small
// gopkg.in/yaml.v3-backed config loaded from disk; a missing or malformed
// file is reported as a wrapped error, not logged) and on cmd/cc/main.go's pattern of loading a
// YAML VM description before constructing a hv.VirtualMachine -- the same
// shape this kernel's boot harness uses before constructing a
// kernel.Kernel.
package bootcfg

import (
	"fmt"
	"os"

	"github.com/ngiddings-clone/arm64kernel/internal/kmem"
	"gopkg.in/yaml.v3"
)

// RegionSpec is one entry of the manifest's memory map.
type RegionSpec struct {
	Type string `yaml:"type"`
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
}

// FileSpec names a host file to preload into the kernel's read-only file
// system under a given in-kernel path.
type FileSpec struct {
	Path   string `yaml:"path"`
	Source string `yaml:"source"`
}

// Manifest is the boot-time configuration a platform loader supplies:
// original_source's board bring-up code hard-coded all of this; here it is
// data so tests and the CLI harness can vary it without a recompile.
type Manifest struct {
	PageSize   uint64       `yaml:"page_size"`
	BlockCount uint64       `yaml:"block_count"`
	Regions    []RegionSpec `yaml:"regions"`
	Files      []FileSpec   `yaml:"files"`
	InitPath   string       `yaml:"init_path"`
	Argv       []string     `yaml:"argv"`
	Envp       []string     `yaml:"envp"`
}

// regionTypes maps the manifest's human-readable region names to
// kmem.RegionType, the way kernel.h's enum names would appear in a device
// tree blob.
var regionTypes = map[string]kmem.RegionType{
	"available":   kmem.Available,
	"unavailable": kmem.Unavailable,
	"mmio":        kmem.MMIO,
	"defective":   kmem.Defective,
}

// Load reads and parses a YAML boot manifest from path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootcfg: read %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bootcfg: parse %s: %w", path, err)
	}
	if m.PageSize == 0 {
		m.PageSize = 4096
	}
	return &m, nil
}

// MemoryMap builds the kmem.MemoryMap the manifest describes, placing each
// region in manifest order (later entries can override earlier ones per
// MemoryMap.Place's priority rules).
func (m *Manifest) MemoryMap() (*kmem.MemoryMap, error) {
	mm := &kmem.MemoryMap{}
	for _, r := range m.Regions {
		t, ok := regionTypes[r.Type]
		if !ok {
			return nil, fmt.Errorf("bootcfg: unknown region type %q", r.Type)
		}
		mm.Place(t, r.Base, r.Size)
	}
	return mm, nil
}
