package cpu

import (
	"bytes"
	"fmt"
	"strings"
)

// Page is one contiguous run of simulated memory sharing a protection.
type Page struct {
	Addr uint64
	Size uint64
	Prot int
	Data []byte

	Desc string
}

func (p *Page) String() string {
	desc := fmt.Sprintf("0x%x-0x%x %s", p.Addr, p.Addr+p.Size, ProtString(p.Prot))
	if p.Desc != "" {
		desc += fmt.Sprintf(" [%s]", p.Desc)
	}
	return desc
}

func (p *Page) End() uint64 {
	return p.Addr + p.Size
}

func (p *Page) Contains(addr uint64) bool {
	return addr >= p.Addr && addr < p.Addr+p.Size
}

// start = max(s1, s2), end = min(e1, e2), ok = end > start
func (p *Page) Intersect(addr, size uint64) (uint64, uint64, bool) {
	start := p.Addr
	end := p.Addr + p.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) Overlaps(addr, size uint64) bool {
	_, _, ok := p.Intersect(addr, size)
	return ok
}

/*
slicing keeps the parent's backing array:

addr1                 size1
[        page         ]
   [ slice ]
   |       |
   addr2   size2

offset = addr2 - addr1
*/
func (p *Page) slice(addr, size uint64) *Page {
	o := addr - p.Addr
	return &Page{Addr: addr, Size: size, Prot: p.Prot, Data: p.Data[o : o+size], Desc: p.Desc}
}

/*
split p around addr:size, shrinking p to the middle

laddr                      rsize
|      lsize       raddr   |
[------|----page---|-------]
[-left-][---mid---][-right-]

if addr:size reaches past either end of p, the middle is zero padded
*/
func (p *Page) Split(addr, size uint64) (left, right *Page) {
	if addr+size < p.Addr+p.Size {
		ra := addr + size
		rs := (p.Addr + p.Size) - ra
		right = p.slice(ra, rs)
		p.Data = p.Data[:ra-p.Addr]
	}
	if addr > p.Addr {
		ls := addr - p.Addr
		left = p.slice(p.Addr, ls)
		p.Data = p.Data[ls:]
	}
	if addr < p.Addr {
		extra := bytes.Repeat([]byte{0}, int(p.Addr-addr))
		p.Data = append(extra, p.Data...)
	}
	raddr, nraddr := p.Addr+p.Size, addr+size
	if nraddr > raddr {
		extra := bytes.Repeat([]byte{0}, int(nraddr-raddr))
		p.Data = append(p.Data, extra...)
	}
	p.Addr, p.Size = addr, size
	return left, right
}

// Pages is kept sorted by address.
type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// binary search to find index of first region containing addr, if any, else -1
func (p Pages) bsearch(addr uint64) int {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return mid
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return -1
}

func (p Pages) Find(addr uint64) *Page {
	i := p.bsearch(addr)
	if i >= 0 {
		return p[i]
	}
	return nil
}

// FindRange returns every page overlapping addr:size, in address order.
func (p Pages) FindRange(addr, size uint64) Pages {
	var ret Pages
	for _, pg := range p {
		if pg.Addr >= addr+size {
			break
		}
		if pg.Overlaps(addr, size) {
			ret = append(ret, pg)
		}
	}
	return ret
}
