package bootcfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ngiddings-clone/arm64kernel/internal/kmem"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boot.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesManifest(t *testing.T) {
	path := writeManifest(t, `
page_size: 4096
block_count: 256
init_path: /bin/init
argv: ["init"]
envp: ["HOME=/"]
regions:
  - {type: available, base: 0, size: 1048576}
  - {type: mmio, base: 1048576, size: 4096}
files:
  - {path: /bin/init, source: init.bin}
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.PageSize != 4096 || m.BlockCount != 256 {
		t.Fatalf("PageSize/BlockCount = %d/%d, want 4096/256", m.PageSize, m.BlockCount)
	}
	if m.InitPath != "/bin/init" || len(m.Argv) != 1 || m.Argv[0] != "init" {
		t.Fatalf("InitPath/Argv = %q/%v", m.InitPath, m.Argv)
	}
	if len(m.Files) != 1 || m.Files[0].Path != "/bin/init" {
		t.Fatalf("Files = %v", m.Files)
	}
}

func TestLoadDefaultsPageSize(t *testing.T) {
	path := writeManifest(t, "block_count: 16\n")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.PageSize != 4096 {
		t.Fatalf("PageSize = %d, want default 4096", m.PageSize)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected an error loading a missing manifest")
	}
}

func TestMemoryMapBuildsFromRegions(t *testing.T) {
	path := writeManifest(t, `
block_count: 4
regions:
  - {type: available, base: 0, size: 65536}
  - {type: mmio, base: 4096, size: 4096}
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	mm, err := m.MemoryMap()
	if err != nil {
		t.Fatalf("MemoryMap: %v", err)
	}
	if _, ok := any(mm).(*kmem.MemoryMap); !ok {
		t.Fatalf("MemoryMap did not return *kmem.MemoryMap")
	}
}

func TestMemoryMapRejectsUnknownRegionType(t *testing.T) {
	path := writeManifest(t, `
regions:
  - {type: bogus, base: 0, size: 4096}
`)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := m.MemoryMap(); err == nil {
		t.Fatalf("expected an error for an unknown region type")
	}
}
