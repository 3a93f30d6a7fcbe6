//go:build unicorn

package unicorn

import (
	"debug/elf"
	"sort"

	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/elfload/go/models/cpu"
)

// unicorn maps memory in 4k pages on every supported arch
const pageSize = 0x1000

// MMAP_BASE is where MemMapAny starts searching for room.
const MMAP_BASE = 0x40000000

type Builder struct {
	Arch, Mode int
	Bits       uint
}

var machineBuilders = map[elf.Machine]Builder{
	elf.EM_386:     {uc.ARCH_X86, uc.MODE_32, 32},
	elf.EM_X86_64:  {uc.ARCH_X86, uc.MODE_64, 64},
	elf.EM_ARM:     {uc.ARCH_ARM, uc.MODE_ARM, 32},
	elf.EM_AARCH64: {uc.ARCH_ARM64, uc.MODE_ARM, 64},
	elf.EM_MIPS:    {uc.ARCH_MIPS, uc.MODE_MIPS32 | uc.MODE_LITTLE_ENDIAN, 32},
}

// BuilderFor returns the emulator configuration for an ELF machine.
func BuilderFor(machine elf.Machine) (*Builder, error) {
	b, ok := machineBuilders[machine]
	if !ok {
		return nil, errors.Errorf("no emulator for machine %s", machine)
	}
	return &b, nil
}

func (b *Builder) New() (*Memory, error) {
	u, err := uc.NewUnicorn(b.Arch, b.Mode)
	if err != nil {
		return nil, errors.Wrap(err, "NewUnicorn() failed")
	}
	base := uint64(MMAP_BASE)
	return &Memory{Unicorn: u, mask: ^uint64(0) >> (64 - b.Bits), base: base}, nil
}

// Memory is the address space of a Unicorn emulator instance. The embedded
// Unicorn already provides MemMapProt, MemUnmap and the read/write methods.
type Memory struct {
	uc.Unicorn
	mask uint64
	base uint64
}

func (m *Memory) PageSize() uint64 {
	return pageSize
}

func (m *Memory) MemProt(addr, size uint64, prot int) error {
	return m.Unicorn.MemProtect(addr, size, prot)
}

func (m *Memory) MemMapAny(size uint64, prot int) (uint64, error) {
	size = (size + pageSize - 1) &^ (pageSize - 1)
	regions, err := m.Unicorn.MemRegions()
	if err != nil {
		return 0, errors.Wrap(err, "MemRegions() failed")
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Begin < regions[j].Begin })
	addr := m.base
	for _, r := range regions {
		// unicorn region ends are inclusive
		end := r.End + 1
		if end <= addr {
			continue
		}
		if r.Begin >= addr+size {
			break
		}
		addr = (end + pageSize - 1) &^ (pageSize - 1)
	}
	if last := addr + size - 1; last < addr || last&m.mask != last {
		return 0, errors.Errorf("no room for %#x byte mapping", size)
	}
	if err := m.Unicorn.MemMapProt(addr, size, prot); err != nil {
		return 0, errors.Wrapf(err, "MemMapProt(%#x, %#x) failed", addr, size)
	}
	return addr, nil
}

// unicorn translates guest code from memory on first fetch, so there is no
// stale cache to invalidate before the first instruction runs
func (m *Memory) SyncICache(addr, size uint64) error {
	return nil
}

var _ cpu.Memory = &Memory{}
