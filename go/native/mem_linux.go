package native

import (
	"sort"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lunixbochs/elfload/go/models"
)

// Mem is the address space of the current process. It only reads, writes and
// unmaps memory it mapped itself.
type Mem struct {
	pageSize uint64

	mu    sync.Mutex
	owned []models.Segment
}

func NewMem() *Mem {
	return &Mem{pageSize: uint64(unix.Getpagesize())}
}

func (m *Mem) PageSize() uint64 {
	return m.pageSize
}

func ptr(addr uint64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr))
}

func (m *Mem) checkAlign(addr, size uint64) error {
	if size == 0 {
		return errors.New("zero-length mapping")
	}
	if addr&(m.pageSize-1) != 0 || size&(m.pageSize-1) != 0 {
		return errors.Errorf("%#x(%#x) not aligned to page size %#x", addr, size, m.pageSize)
	}
	if uint64(uintptr(addr+size-1)) != addr+size-1 {
		return errors.Errorf("%#x(%#x) outside the host address space", addr, size)
	}
	return nil
}

// covers reports whether addr:size lies entirely in memory mapped by m.
// Callers hold m.mu.
func (m *Mem) covers(addr, size uint64) bool {
	if size == 0 {
		return true
	}
	seg := models.Segment{Start: addr, End: addr + size}
	return seg.End > seg.Start && len(seg.Minus(m.owned)) == 0
}

func (m *Mem) own(addr, size uint64) {
	m.owned = append(m.owned, models.Segment{Start: addr, End: addr + size})
	sort.Slice(m.owned, func(i, j int) bool { return m.owned[i].Start < m.owned[j].Start })
}

func (m *Mem) disown(addr, size uint64) {
	var tmp []models.Segment
	cut := []models.Segment{{Start: addr, End: addr + size}}
	for _, s := range m.owned {
		tmp = append(tmp, s.Minus(cut)...)
	}
	m.owned = tmp
}

func (m *Mem) MemMapProt(addr, size uint64, prot int) error {
	if err := m.checkAlign(addr, size); err != nil {
		return err
	}
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_FIXED_NOREPLACE
	p, err := unix.MmapPtr(-1, 0, ptr(addr), uintptr(size), prot, flags)
	if err != nil {
		return errors.Wrapf(err, "mmap(%#x, %#x) failed", addr, size)
	}
	// kernels before 4.17 treat the address as a hint
	if uint64(uintptr(p)) != addr {
		unix.MunmapPtr(p, uintptr(size))
		return errors.Errorf("mmap(%#x, %#x) placed the mapping at %#x", addr, size, uintptr(p))
	}
	m.mu.Lock()
	m.own(addr, size)
	m.mu.Unlock()
	return nil
}

func (m *Mem) MemMapAny(size uint64, prot int) (uint64, error) {
	size = (size + m.pageSize - 1) &^ (m.pageSize - 1)
	p, err := unix.MmapPtr(-1, 0, nil, uintptr(size), prot, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, errors.Wrapf(err, "mmap(%#x) failed", size)
	}
	addr := uint64(uintptr(p))
	m.mu.Lock()
	m.own(addr, size)
	m.mu.Unlock()
	return addr, nil
}

func (m *Mem) MemProt(addr, size uint64, prot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.covers(addr, size) {
		return errors.Errorf("mprotect(%#x, %#x): range not mapped by loader", addr, size)
	}
	if err := unix.Mprotect(unsafe.Slice((*byte)(ptr(addr)), size), prot); err != nil {
		return errors.Wrapf(err, "mprotect(%#x, %#x) failed", addr, size)
	}
	return nil
}

func (m *Mem) MemUnmap(addr, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.covers(addr, size) {
		return errors.Errorf("munmap(%#x, %#x): range not mapped by loader", addr, size)
	}
	if err := unix.MunmapPtr(ptr(addr), uintptr(size)); err != nil {
		return errors.Wrapf(err, "munmap(%#x, %#x) failed", addr, size)
	}
	m.disown(addr, size)
	return nil
}

// host returns addr:size as a slice. Host protections still apply to it.
func (m *Mem) host(addr, size uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.covers(addr, size) {
		return nil, errors.Errorf("%#x(%#x) not mapped by loader", addr, size)
	}
	if size == 0 {
		return nil, nil
	}
	return unsafe.Slice((*byte)(ptr(addr)), size), nil
}

func (m *Mem) MemReadInto(p []byte, addr uint64) error {
	src, err := m.host(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(p, src)
	return nil
}

func (m *Mem) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := m.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Mem) MemWrite(addr uint64, p []byte) error {
	dst, err := m.host(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

func (m *Mem) SyncICache(addr, size uint64) error {
	m.mu.Lock()
	ok := m.covers(addr, size)
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("icache sync %#x(%#x): range not mapped by loader", addr, size)
	}
	return syncICache(addr, size)
}
