package cpu

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_FETCH_UNMAPPED:
		reason = "unmapped fetch"
	case MEM_WRITE_PROT:
		reason = "protected write"
	case MEM_READ_PROT:
		reason = "protected read"
	case MEM_FETCH_PROT:
		reason = "protected exec"
	case MEM_MAP_CONFLICT:
		reason = "mapping conflict"
	case MEM_MAP_RANGE:
		reason = "mapping outside address space"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// MemSim is a sorted list of pages with no address space limits. Mem wraps it
// with page alignment, range and conflict checks.
type MemSim struct {
	Mem Pages
}

// RangeValid reports whether addr:size is fully mapped and, if prot > 0,
// whether every page in it grants all of prot.
func (m *MemSim) RangeValid(addr, size uint64, prot int) (mapGood bool, protGood bool) {
	i := m.Mem.bsearch(addr)
	if i < 0 {
		return false, false
	}
	protGood = true
	end := addr + size
	for _, pg := range m.Mem[i:] {
		if !pg.Contains(addr) {
			break
		}
		if prot > 0 && pg.Prot&prot != prot {
			protGood = false
		}
		if addr = pg.End(); addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

// Map replaces addr:size with a single page. Unless zero is set the page
// starts with whatever was mapped there before.
func (m *MemSim) Map(addr, size uint64, prot int, zero bool) *Page {
	data := make([]byte, size)
	if !zero {
		m.Read(addr, data, 0)
	}
	m.Unmap(addr, size)
	pg := &Page{Addr: addr, Size: size, Prot: prot, Data: data}
	m.Mem = append(m.Mem, pg)
	sort.Sort(m.Mem)
	return pg
}

// carve splits every page overlapping addr:size at the range edges. The piece
// inside the range is kept if inside returns true.
func (m *MemSim) carve(addr, size uint64, inside func(*Page) bool) {
	out := make(Pages, 0, len(m.Mem)+2)
	for _, pg := range m.Mem {
		oaddr, osize, ok := pg.Intersect(addr, size)
		if !ok {
			out = append(out, pg)
			continue
		}
		left, right := pg.Split(oaddr, osize)
		if left != nil {
			out = append(out, left)
		}
		if inside(pg) {
			out = append(out, pg)
		}
		if right != nil {
			out = append(out, right)
		}
	}
	m.Mem = out
}

func (m *MemSim) Prot(addr, size uint64, prot int) {
	m.carve(addr, size, func(pg *Page) bool {
		pg.Prot = prot
		return true
	})
}

func (m *MemSim) Unmap(addr, size uint64) {
	m.carve(addr, size, func(*Page) bool { return false })
}

func (m *MemSim) check(addr uint64, size int, prot int, write bool) error {
	mapped, protOk := m.RangeValid(addr, uint64(size), prot)
	if mapped && protOk {
		return nil
	}
	enum := MEM_READ_UNMAPPED
	switch {
	case write && !mapped:
		enum = MEM_WRITE_UNMAPPED
	case write:
		enum = MEM_WRITE_PROT
	case prot&PROT_EXEC != 0 && !mapped:
		enum = MEM_FETCH_UNMAPPED
	case prot&PROT_EXEC != 0:
		enum = MEM_FETCH_PROT
	case mapped:
		enum = MEM_READ_PROT
	}
	return &MemError{Addr: addr, Size: size, Enum: enum}
}

// copyRange moves bytes between p and the pages covering addr, which must
// already be checked.
func (m *MemSim) copyRange(addr uint64, p []byte, write bool) {
	i := m.Mem.bsearch(addr)
	if i < 0 {
		return
	}
	for _, pg := range m.Mem[i:] {
		if len(p) == 0 || !pg.Contains(addr) {
			break
		}
		data := pg.Data[addr-pg.Addr:]
		var n int
		if write {
			n = copy(data, p)
		} else {
			n = copy(p, data)
		}
		addr, p = addr+uint64(n), p[n:]
	}
}

// Read fills p from addr, requiring prot on every page touched.
func (m *MemSim) Read(addr uint64, p []byte, prot int) error {
	if err := m.check(addr, len(p), prot, false); err != nil {
		return err
	}
	m.copyRange(addr, p, false)
	return nil
}

// Write stores p at addr, requiring prot on every page touched.
func (m *MemSim) Write(addr uint64, p []byte, prot int) error {
	if err := m.check(addr, len(p), prot, true); err != nil {
		return err
	}
	m.copyRange(addr, p, true)
	return nil
}
