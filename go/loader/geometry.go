package loader

import (
	"debug/elf"

	"github.com/lunixbochs/elfload/go/models"
)

func alignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}

func alignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}

// segmentPlan is the page geometry of one PT_LOAD segment before bias.
type segmentPlan struct {
	index    int
	prog     *ProgramHeader
	mapStart uint64
	head     uint64
	mapSize  uint64
	prot     int
}

func (s *segmentPlan) span() models.Segment {
	return models.Segment{Start: s.mapStart, End: s.mapStart + s.mapSize}
}

func planSegment(index int, prog *ProgramHeader, pageSize uint64) *segmentPlan {
	mapStart := alignDown(prog.Vaddr, pageSize)
	head := prog.Vaddr - mapStart
	return &segmentPlan{
		index:    index,
		prog:     prog,
		mapStart: mapStart,
		head:     head,
		mapSize:  alignUp(prog.Memsz+head, pageSize),
		prot:     prog.Prot(),
	}
}

// planSegments computes the geometry of every loadable segment in program
// header order and rejects tables that cannot be mapped as described.
func planSegments(image []byte, progs []ProgramHeader, pageSize uint64) ([]*segmentPlan, error) {
	var plans []*segmentPlan
	for i := range progs {
		p := &progs[i]
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if p.Off > uint64(len(image)) || p.Filesz > uint64(len(image))-p.Off {
			return nil, models.Errorf(models.MalformedImage, "segment", "segment %d file range %#x(%#x) outside %#x byte image",
				i, p.Off, p.Filesz, len(image))
		}
		if p.Vaddr+p.Memsz < p.Vaddr || alignUp(p.Vaddr+p.Memsz, pageSize) < p.Vaddr {
			return nil, models.Errorf(models.MalformedImage, "segment", "segment %d at %#x(%#x) wraps the address space",
				i, p.Vaddr, p.Memsz)
		}
		plan := planSegment(i, p, pageSize)
		span := plan.span()
		for _, other := range plans {
			ospan := other.span()
			if span.Overlaps(&ospan) && plan.prot != other.prot {
				return nil, models.Errorf(models.SegmentOverlap, "segment",
					"segments %d and %d share pages %#x-%#x with different protections",
					other.index, i, max(span.Start, ospan.Start), min(span.End, ospan.End))
			}
		}
		plans = append(plans, plan)
	}
	if len(plans) == 0 {
		return nil, models.Errorf(models.MalformedImage, "segment", "no loadable segments")
	}
	return plans, nil
}

// imageSpan returns the page-aligned extent covered by plans.
func imageSpan(plans []*segmentPlan) models.Segment {
	span := plans[0].span()
	for _, p := range plans[1:] {
		s := p.span()
		span.Merge(&s)
	}
	return span
}

// phdrAddr returns the unbiased address of the program header table, or 0 if
// no segment maps it.
func phdrAddr(hdr *ElfHeader, progs []ProgramHeader) uint64 {
	for _, p := range progs {
		if p.Type == elf.PT_PHDR {
			return p.Vaddr
		}
	}
	size := uint64(hdr.Phentsize) * uint64(hdr.Phnum)
	for _, p := range progs {
		if p.Type == elf.PT_LOAD && p.ContainsOff(hdr.Phoff, size) {
			return p.Vaddr + hdr.Phoff - p.Off
		}
	}
	return 0
}
