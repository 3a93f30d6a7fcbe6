package models

import (
	"fmt"

	"github.com/lunixbochs/elfload/go/models/cpu"
)

type RegionKind int

const (
	// zero-filled anonymous memory
	RegionAnon RegionKind = iota
	// anonymous memory holding bytes copied from the image
	RegionImage
	RegionStack
)

// Region is one span mapped by a load. Until control transfer the loader owns it.
type Region struct {
	Addr, Size uint64
	Prot       int
	Kind       RegionKind
	Desc       string
}

func (r *Region) End() uint64 {
	return r.Addr + r.Size
}

func (r *Region) Contains(addr uint64) bool {
	return r.Addr <= addr && addr < r.Addr+r.Size
}

func (r *Region) String() string {
	desc := fmt.Sprintf("0x%x-0x%x %s", r.Addr, r.Addr+r.Size, cpu.ProtString(r.Prot))
	if r.Desc != "" {
		desc += fmt.Sprintf(" [%s]", r.Desc)
	}
	return desc
}

type RegionAddrSort []*Region

func (m RegionAddrSort) Len() int           { return len(m) }
func (m RegionAddrSort) Less(i, j int) bool { return m[i].Addr < m[j].Addr }
func (m RegionAddrSort) Swap(i, j int)      { m[i], m[j] = m[j], m[i] }
