package cpu

import (
	"github.com/pkg/errors"
)

// MMAP_BASE is where Mem starts searching for room in MemMapAny.
const MMAP_BASE = 0x40000000

// Mem wraps MemSim to make a Memory-compatible simulated address space.
// Mem is not safe for concurrent use.
type Mem struct {
	bits uint
	// methods return an error for addresses that do not fit inside mask
	// calculated by NewMem using ^uint64(0) >> (64 - bits)
	mask     uint64
	pageSize uint64
	// MemMapAny searches upwards from here
	base uint64
	// MemSim is private, so any loader-facing functionality needs to be wrapped by Mem
	sim *MemSim
}

func NewMem(bits uint, pageSize uint64) *Mem {
	base := uint64(MMAP_BASE)
	mask := ^uint64(0) >> (64 - bits)
	if base > mask {
		base = 0
	}
	return &Mem{
		bits:     bits,
		mask:     mask,
		pageSize: pageSize,
		base:     base,
		sim:      &MemSim{},
	}
}

func (m *Mem) PageSize() uint64 {
	return m.pageSize
}

func (m *Mem) Bits() uint {
	return m.bits
}

// Mappings returns the current page list. Callers must not modify it.
func (m *Mem) Mappings() Pages {
	return m.sim.Mem
}

func (m *Mem) checkRange(addr, size uint64) error {
	if size == 0 {
		return errors.New("zero-length mapping")
	}
	if addr&(m.pageSize-1) != 0 || size&(m.pageSize-1) != 0 {
		return errors.Errorf("mapping %#x(%#x) not aligned to page size %#x", addr, size, m.pageSize)
	}
	end := addr + size - 1
	if end < addr || end&m.mask != end {
		return &MemError{Addr: addr, Size: int(size), Enum: MEM_MAP_RANGE}
	}
	return nil
}

func (m *Mem) MemMapProt(addr, size uint64, prot int) error {
	if err := m.checkRange(addr, size); err != nil {
		return err
	}
	if len(m.sim.Mem.FindRange(addr, size)) > 0 {
		return &MemError{Addr: addr, Size: int(size), Enum: MEM_MAP_CONFLICT}
	}
	m.sim.Map(addr, size, prot, true)
	return nil
}

func (m *Mem) MemMapAny(size uint64, prot int) (uint64, error) {
	size = (size + m.pageSize - 1) &^ (m.pageSize - 1)
	addr := m.base
	for _, pg := range m.sim.Mem {
		if pg.End() <= addr {
			continue
		}
		if pg.Addr >= addr+size {
			break
		}
		addr = (pg.End() + m.pageSize - 1) &^ (m.pageSize - 1)
	}
	if err := m.checkRange(addr, size); err != nil {
		return 0, errors.Wrap(err, "no room for mapping")
	}
	m.sim.Map(addr, size, prot, true)
	return addr, nil
}

func (m *Mem) MemProt(addr, size uint64, prot int) error {
	if mapped, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	m.sim.Prot(addr, size, prot)
	return nil
}

func (m *Mem) MemUnmap(addr, size uint64) error {
	if len(m.sim.Mem.FindRange(addr, size)) == 0 {
		return errors.New("range not mapped")
	}
	m.sim.Unmap(addr, size)
	return nil
}

func (m *Mem) MemReadInto(p []byte, addr uint64) error {
	return m.sim.Read(addr, p, 0)
}

func (m *Mem) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := m.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Mem) MemWrite(addr uint64, p []byte) error {
	return m.sim.Write(addr, p, 0)
}

// ReadProt reads while checking protections, as an interpreter fetching from addr would.
func (m *Mem) ReadProt(addr, size uint64, prot int) ([]byte, error) {
	p := make([]byte, size)
	if err := m.sim.Read(addr, p, prot); err != nil {
		return nil, err
	}
	return p, nil
}

// simulated memory has no instruction cache
func (m *Mem) SyncICache(addr, size uint64) error {
	if mapped, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	return nil
}

// ReadUint reads a size-byte integer at addr in little-endian order.
func (m *Mem) ReadUint(addr uint64, size int) (uint64, error) {
	p, err := m.MemRead(addr, uint64(size))
	if err != nil {
		return 0, err
	}
	return UnpackUint(size, p)
}
