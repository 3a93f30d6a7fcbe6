package loader

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

// Process is the caller-supplied context of the program being loaded.
type Process struct {
	Args []string
	Env  []string
	// entries written after the standard table, without AT_NULL
	Auxv []models.Auxv
	// prefix Auxv with the table Linux builds for a new process
	StandardAuxv bool
	// AT_PLATFORM override, defaults to the header's machine
	Platform string
	// AT_RANDOM bytes, read from crypto/rand when nil
	Random []byte
}

// LoadResult is the hand-off to the control transfer: jump to Entry with the
// stack pointer at StackPointer.
type LoadResult struct {
	Entry        uint64
	StackPointer uint64
	Base         uint64

	Header *ElfHeader
	Image  *MappedImage
	Stack  *StackFrame
	// everything mapped by the load, stack included
	Regions []*models.Region
}

func (r *LoadResult) String() string {
	return fmt.Sprintf("entry=%#x sp=%#x base=%#x", r.Entry, r.StackPointer, r.Base)
}

// Loader loads ELF images into one address space. A Loader holds no state
// between loads.
type Loader struct {
	Mem    cpu.Memory
	Config *models.Config
	Log    logrus.FieldLogger
}

func NewLoader(mem cpu.Memory) *Loader {
	return &Loader{Mem: mem, Config: models.DefaultConfig(), Log: logrus.StandardLogger()}
}

// Load loads image into mem with default settings.
func Load(mem cpu.Memory, image []byte, proc Process) (*LoadResult, error) {
	return NewLoader(mem).Load(image, proc)
}

// Load validates image, maps it, and builds its initial stack. On error
// nothing mapped by this call is left behind, unless releasing it failed
// too, which is logged.
func (l *Loader) Load(image []byte, proc Process) (*LoadResult, error) {
	hdr, err := Validate(image)
	if err != nil {
		return nil, err
	}
	if err := hdr.Check(l.Config); err != nil {
		return nil, err
	}
	progs, err := ProgramHeaders(image, hdr)
	if err != nil {
		return nil, err
	}
	// reject bad layouts before the stack is mapped
	if _, err := planSegments(image, progs, l.Mem.PageSize()); err != nil {
		return nil, err
	}
	log := l.Log.WithField("type", hdr.Type.String())
	if interp := Interp(image, progs); interp != "" {
		log.WithField("interp", interp).Warn("ignoring PT_INTERP, image is entered directly")
	}

	sb := NewStackBuilder(l.Mem, l.Config, hdr.WordSize())
	sb.Log = l.Log
	stack, err := sb.Allocate()
	if err != nil {
		return nil, err
	}
	mapped, err := l.MapSegments(image, hdr, progs, stack)
	if err != nil {
		l.teardown([]*models.Region{stack})
		return nil, err
	}
	regions := append(mapped.Regions[:len(mapped.Regions):len(mapped.Regions)], stack)

	auxv, err := l.auxv(hdr, progs, mapped, proc)
	if err != nil {
		l.teardown(regions)
		return nil, err
	}
	frame, err := sb.Build(stack, proc.Args, proc.Env, auxv)
	if err != nil {
		l.teardown(regions)
		return nil, err
	}
	res := &LoadResult{
		Entry:        mapped.Entry,
		StackPointer: frame.SP,
		Base:         mapped.Base,
		Header:       hdr,
		Image:        mapped,
		Stack:        frame,
		Regions:      regions,
	}
	log.WithFields(logrus.Fields{
		"entry": fmt.Sprintf("%#x", res.Entry),
		"sp":    fmt.Sprintf("%#x", res.StackPointer),
		"base":  fmt.Sprintf("%#x", res.Base),
	}).Debug("loaded image")
	return res, nil
}

func (l *Loader) auxv(hdr *ElfHeader, progs []ProgramHeader, mapped *MappedImage, proc Process) ([]models.Auxv, error) {
	if !proc.StandardAuxv {
		return proc.Auxv, nil
	}
	platform := proc.Platform
	if platform == "" {
		platform = hdr.Platform()
	}
	var phent, phnum uint64
	if mapped.PhdrAddr != 0 {
		phent, phnum = uint64(hdr.Phentsize), uint64(len(progs))
	}
	auxv, err := models.StandardAuxv(models.AuxvInfo{
		PhdrAddr: mapped.PhdrAddr,
		Phent:    phent,
		Phnum:    phnum,
		PageSize: l.Mem.PageSize(),
		Entry:    mapped.Entry,
		Platform: platform,
		Random:   proc.Random,
	})
	if err != nil {
		return nil, err
	}
	return append(auxv, proc.Auxv...), nil
}

// teardown releases regions after a failed load. Failures are logged, the
// original error is what the caller sees.
func (l *Loader) teardown(regions []*models.Region) {
	if err := unmapRegions(l.Mem, regions); err != nil {
		l.Log.WithError(err).Warn("failed to release regions of a failed load")
	}
}

func unmapRegions(mem cpu.Memory, regions []*models.Region) error {
	var result error
	for _, r := range regions {
		if err := mem.MemUnmap(r.Addr, r.Size); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "munmap %s", r))
		}
	}
	return result
}

// Unload releases every region of a completed load.
func Unload(mem cpu.Memory, res *LoadResult) error {
	return unmapRegions(mem, res.Regions)
}
