package loader

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

// MappedImage describes the segments of one image after mapping.
type MappedImage struct {
	// load bias added to every p_vaddr, 0 for ET_EXEC
	Bias uint64
	// base address reported in LoadResult, equal to Bias
	Base uint64
	// lowest and highest mapped address
	Low, High uint64
	Entry     uint64
	// runtime address of the program header table, 0 if not mapped
	PhdrAddr uint64
	// stack protection requested by PT_GNU_STACK
	StackProt int
	GnuStack  bool
	Regions   []*models.Region
}

// MapSegments maps image into mem with default settings. See Loader.MapSegments.
func MapSegments(mem cpu.Memory, image []byte, hdr *ElfHeader, progs []ProgramHeader, stack *models.Region) (*MappedImage, error) {
	return NewLoader(mem).MapSegments(image, hdr, progs, stack)
}

// MapSegments maps, fills and protects every PT_LOAD segment with file
// content, then applies PT_GNU_STACK to stack if it is not nil.
// On error every region it mapped has been released again.
func (l *Loader) MapSegments(image []byte, hdr *ElfHeader, progs []ProgramHeader, stack *models.Region) (*MappedImage, error) {
	pageSize := l.Mem.PageSize()
	plans, err := planSegments(image, progs, pageSize)
	if err != nil {
		return nil, err
	}
	span := imageSpan(plans)
	bias, err := l.chooseBias(hdr, span)
	if err != nil {
		return nil, err
	}
	log := l.Log.WithField("bias", fmt.Sprintf("%#x", bias))
	m := &MappedImage{
		Bias:  bias,
		Base:  bias,
		Low:   bias + span.Start,
		High:  bias + span.End,
		Entry: hdr.Entry + bias,
	}
	if err := l.mapPlans(image, plans, m, log); err != nil {
		l.teardown(m.Regions)
		return nil, err
	}
	if err := l.protectPlans(plans, m, log); err != nil {
		l.teardown(m.Regions)
		return nil, err
	}
	for _, p := range progs {
		if p.Type != elf.PT_GNU_STACK {
			continue
		}
		m.GnuStack = true
		m.StackProt = cpu.PROT_READ | cpu.PROT_WRITE
		if p.Flags&elf.PF_X != 0 {
			m.StackProt |= cpu.PROT_EXEC
		}
		if stack != nil {
			if err := l.Mem.MemProt(stack.Addr, stack.Size, m.StackProt); err != nil {
				l.teardown(m.Regions)
				return nil, models.MemErr(models.ProtectionFailure, "stack", stack.Addr, stack.Size, err)
			}
			stack.Prot = m.StackProt
			log.WithField("prot", cpu.ProtString(m.StackProt)).Debug("applied PT_GNU_STACK")
		}
	}
	if addr := phdrAddr(hdr, progs); addr != 0 {
		m.PhdrAddr = addr + bias
	}
	return m, nil
}

func (l *Loader) chooseBias(hdr *ElfHeader, span models.Segment) (uint64, error) {
	if hdr.Type != elf.ET_DYN {
		return 0, nil
	}
	if l.Config.ForceBase != 0 {
		return l.Config.ForceBase, nil
	}
	// find room for the whole image, then give it back so the segments can be
	// mapped at fixed addresses inside it
	size := span.Size()
	probe, err := l.Mem.MemMapAny(size, cpu.PROT_NONE)
	if err != nil {
		return 0, models.MemErr(models.MappingFailure, "probe", 0, size, err)
	}
	if err := l.Mem.MemUnmap(probe, size); err != nil {
		return 0, models.MemErr(models.MappingFailure, "probe", probe, size, err)
	}
	l.Log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%#x", probe), "size": size}).Debug("probed load address")
	return probe - span.Start, nil
}

// mapPlans maps the pages of each segment not already mapped by an earlier
// one, then copies the file bytes and clears the bss tail.
func (l *Loader) mapPlans(image []byte, plans []*segmentPlan, m *MappedImage, log logrus.FieldLogger) error {
	var mapped []models.Segment
	for _, plan := range plans {
		span := plan.span()
		for _, gap := range span.Minus(mapped) {
			addr, size := m.Bias+gap.Start, gap.Size()
			if err := l.Mem.MemMapProt(addr, size, cpu.PROT_READ|cpu.PROT_WRITE); err != nil {
				return models.MemErr(models.MappingFailure, "segment", addr, size, err)
			}
			kind := models.RegionImage
			if gap.Start >= alignUp(plan.prog.Vaddr+plan.prog.Filesz, l.Mem.PageSize()) {
				kind = models.RegionAnon
			}
			m.Regions = append(m.Regions, &models.Region{
				Addr: addr,
				Size: size,
				Prot: plan.prot,
				Kind: kind,
				Desc: fmt.Sprintf("segment %d", plan.index),
			})
			mapped = append(mapped, gap)
			sort.Slice(mapped, func(i, j int) bool { return mapped[i].Start < mapped[j].Start })
			log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%#x", addr), "size": size}).Debug("mapped segment pages")
		}
		p := plan.prog
		addr := m.Bias + p.Vaddr
		if err := l.Mem.MemWrite(addr, image[p.Off:p.Off+p.Filesz]); err != nil {
			return models.MemErr(models.MappingFailure, "copy", addr, p.Filesz, err)
		}
		if p.Memsz > p.Filesz {
			if err := zeroFill(l.Mem, addr+p.Filesz, p.Memsz-p.Filesz); err != nil {
				return models.MemErr(models.MappingFailure, "bss", addr+p.Filesz, p.Memsz-p.Filesz, err)
			}
		}
	}
	return nil
}

// protectPlans applies each segment's final protection. It runs after every
// copy so segments sharing a page can both be written first.
func (l *Loader) protectPlans(plans []*segmentPlan, m *MappedImage, log logrus.FieldLogger) error {
	for _, plan := range plans {
		addr := m.Bias + plan.mapStart
		if err := l.Mem.MemProt(addr, plan.mapSize, plan.prot); err != nil {
			return models.MemErr(models.ProtectionFailure, "segment", addr, plan.mapSize, err)
		}
		if plan.prot&cpu.PROT_EXEC != 0 {
			if err := l.Mem.SyncICache(addr, plan.mapSize); err != nil {
				return models.MemErr(models.ProtectionFailure, "icache", addr, plan.mapSize, err)
			}
		}
		log.WithFields(logrus.Fields{
			"addr": fmt.Sprintf("%#x", addr),
			"size": plan.mapSize,
			"prot": cpu.ProtString(plan.prot),
		}).Debug("protected segment")
	}
	return nil
}

// zeroFill clears addr:size one page-sized write at a time.
func zeroFill(mem cpu.Memory, addr, size uint64) error {
	chunk := mem.PageSize()
	if size < chunk {
		chunk = size
	}
	zero := make([]byte, chunk)
	for size > 0 {
		n := chunk
		if size < n {
			n = size
		}
		if err := mem.MemWrite(addr, zero[:n]); err != nil {
			return err
		}
		addr += n
		size -= n
	}
	return nil
}
