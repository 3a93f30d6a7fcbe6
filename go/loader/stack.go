package loader

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

// StackFrame records where Build placed the initial process stack.
//
// From SP upwards the frame holds argc, argv[0..argc), NULL, envp[..], NULL,
// the auxv pairs and an AT_NULL pair. The strings they point at live in
// [StringsAddr, Top).
type StackFrame struct {
	// stack mapping
	Base, Size uint64
	Top        uint64
	SP         uint64
	Argc       uint64

	// string addresses
	Argv, Envp []uint64
	// pointer array addresses
	ArgvAddr, EnvpAddr, AuxvAddr uint64
	// auxv as written, with Data payloads resolved to addresses
	Auxv        []models.Auxv
	StringsAddr uint64
}

type StackBuilder struct {
	mem      cpu.Memory
	cfg      *models.Config
	wordSize int
	Log      logrus.FieldLogger
}

func NewStackBuilder(mem cpu.Memory, cfg *models.Config, wordSize int) *StackBuilder {
	return &StackBuilder{mem: mem, cfg: cfg, wordSize: wordSize, Log: logrus.StandardLogger()}
}

// Allocate maps the stack region. It is writable, and executable when
// Config.ExecStack is set, until PT_GNU_STACK narrows it.
func (s *StackBuilder) Allocate() (*models.Region, error) {
	size := alignUp(s.cfg.StackSize, s.mem.PageSize())
	prot := cpu.PROT_READ | cpu.PROT_WRITE
	if s.cfg.ExecStack {
		prot |= cpu.PROT_EXEC
	}
	addr := s.cfg.StackBase
	if addr != 0 {
		if err := s.mem.MemMapProt(addr, size, prot); err != nil {
			return nil, models.MemErr(models.MappingFailure, "stack", addr, size, err)
		}
	} else {
		var err error
		if addr, err = s.mem.MemMapAny(size, prot); err != nil {
			return nil, models.MemErr(models.MappingFailure, "stack", 0, size, err)
		}
	}
	s.Log.WithFields(logrus.Fields{"addr": fmt.Sprintf("%#x", addr), "size": size}).Debug("allocated stack")
	return &models.Region{Addr: addr, Size: size, Prot: prot, Kind: models.RegionStack, Desc: "stack"}, nil
}

// stackArena stages the top of the stack in host memory so every store is
// bounds checked before anything reaches the address space.
type stackArena struct {
	base     uint64
	buf      []byte
	wordSize int
}

func newStackArena(base, size uint64, wordSize int) *stackArena {
	return &stackArena{base: base, buf: make([]byte, size), wordSize: wordSize}
}

func (a *stackArena) end() uint64 {
	return a.base + uint64(len(a.buf))
}

func (a *stackArena) put(addr uint64, p []byte) error {
	if addr < a.base || uint64(len(p)) > a.end()-addr {
		return models.Errorf(models.StackOverflow, "arena", "store %#x(%#x) outside %#x-%#x", addr, len(p), a.base, a.end())
	}
	copy(a.buf[addr-a.base:], p)
	return nil
}

func (a *stackArena) putWord(addr, val uint64) error {
	p, err := cpu.PackUint(a.wordSize, nil, val)
	if err != nil {
		return models.Errorf(models.StackOverflow, "address", "%v", err)
	}
	return a.put(addr, p)
}

// putWords stores vals followed by a zero word and returns the next address.
func (a *stackArena) putWords(addr uint64, vals []uint64) (uint64, error) {
	for _, v := range append(vals[:len(vals):len(vals)], 0) {
		if err := a.putWord(addr, v); err != nil {
			return 0, err
		}
		addr += uint64(a.wordSize)
	}
	return addr, nil
}

// Build writes the initial frame for argv, envp and auxv into region.
// auxv must not contain the AT_NULL terminator. Nothing is written if the
// frame does not fit the configured budgets.
func (s *StackBuilder) Build(region *models.Region, argv, envp []string, auxv []models.Auxv) (*StackFrame, error) {
	word := uint64(s.wordSize)
	top := region.End()
	if s.cfg.StringSize+s.cfg.PointerSize > region.Size {
		return nil, models.Errorf(models.StackOverflow, "stack", "%#x byte stack cannot hold the %#x byte frame budget",
			region.Size, s.cfg.StringSize+s.cfg.PointerSize)
	}
	strBase := top - s.cfg.StringSize
	ptrBase := strBase - s.cfg.PointerSize
	arena := newStackArena(ptrBase, top-ptrBase, s.wordSize)

	pos := strBase
	putBytes := func(p []byte, nul bool) (uint64, error) {
		n := uint64(len(p))
		if nul {
			n++
		}
		if n > top-pos {
			return 0, models.Errorf(models.StackOverflow, "strings", "strings exceed the %#x byte budget", s.cfg.StringSize)
		}
		addr := pos
		if err := arena.put(addr, p); err != nil {
			return 0, err
		}
		pos += n
		return addr, nil
	}
	frame := &StackFrame{
		Base:        region.Addr,
		Size:        region.Size,
		Top:         top,
		Argc:        uint64(len(argv)),
		StringsAddr: strBase,
	}
	for _, v := range argv {
		addr, err := putBytes([]byte(v), true)
		if err != nil {
			return nil, err
		}
		frame.Argv = append(frame.Argv, addr)
	}
	for _, v := range envp {
		addr, err := putBytes([]byte(v), true)
		if err != nil {
			return nil, err
		}
		frame.Envp = append(frame.Envp, addr)
	}
	frame.Auxv = make([]models.Auxv, len(auxv))
	for i, a := range auxv {
		frame.Auxv[i] = models.Auxv{Type: a.Type, Val: a.Val}
		if a.Data != nil {
			addr, err := putBytes(a.Data, false)
			if err != nil {
				return nil, err
			}
			frame.Auxv[i].Val = addr
		}
	}

	var packed bytes.Buffer
	if err := models.PackAuxv(&packed, frame.Auxv, s.wordSize*8); err != nil {
		return nil, models.Errorf(models.StackOverflow, "auxv", "%v", err)
	}
	words := 1 + uint64(len(argv)+1) + uint64(len(envp)+1)
	frameSize := words*word + uint64(packed.Len())
	if frameSize > strBase-ptrBase {
		return nil, models.Errorf(models.StackOverflow, "pointers", "%#x byte frame exceeds the %#x byte budget",
			frameSize, s.cfg.PointerSize)
	}
	sp := alignDown(strBase-frameSize, s.cfg.StackAlign)
	if sp < ptrBase {
		return nil, models.Errorf(models.StackOverflow, "pointers", "aligned frame at %#x below %#x", sp, ptrBase)
	}
	frame.SP = sp

	if err := arena.putWord(sp, frame.Argc); err != nil {
		return nil, err
	}
	frame.ArgvAddr = sp + word
	next, err := arena.putWords(frame.ArgvAddr, frame.Argv)
	if err != nil {
		return nil, err
	}
	frame.EnvpAddr = next
	if next, err = arena.putWords(frame.EnvpAddr, frame.Envp); err != nil {
		return nil, err
	}
	frame.AuxvAddr = next
	if err := arena.put(frame.AuxvAddr, packed.Bytes()); err != nil {
		return nil, err
	}

	if err := s.mem.MemWrite(arena.base, arena.buf); err != nil {
		return nil, models.MemErr(models.MappingFailure, "stack", arena.base, uint64(len(arena.buf)), err)
	}
	s.Log.WithFields(logrus.Fields{
		"sp":   fmt.Sprintf("%#x", sp),
		"argc": frame.Argc,
		"envc": len(envp),
		"auxc": len(auxv),
	}).Debug("built stack frame")
	return frame, nil
}
