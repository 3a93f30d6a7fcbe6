package models

import (
	"github.com/lunixbochs/elfload/go/models/cpu"
)

// MemIO reads and writes sequentially in Mem starting at Addr, ignoring
// protections.
type MemIO struct {
	Mem  cpu.Memory
	Addr uint64
}

func (m *MemIO) Read(p []byte) (int, error) {
	err := m.Mem.MemReadInto(p, m.Addr)
	if err != nil {
		return 0, err
	}
	m.Addr += uint64(len(p))
	return len(p), nil
}

func (m *MemIO) Write(p []byte) (int, error) {
	err := m.Mem.MemWrite(m.Addr, p)
	if err != nil {
		return 0, err
	}
	m.Addr += uint64(len(p))
	return len(p), nil
}

// ReadCString reads a NUL-terminated string and leaves Addr past the NUL.
func (m *MemIO) ReadCString() (string, error) {
	var s []byte
	b := make([]byte, 1)
	for {
		if _, err := m.Read(b); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(s), nil
		}
		s = append(s, b[0])
	}
}
