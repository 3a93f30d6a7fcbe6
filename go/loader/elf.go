package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

var machineMap = map[elf.Machine]string{
	elf.EM_386:     "i686",
	elf.EM_X86_64:  "x86_64",
	elf.EM_ARM:     "arm",
	elf.EM_AARCH64: "aarch64",
	elf.EM_MIPS:    "mips",
	elf.EM_PPC:     "ppc",
	elf.EM_PPC64:   "ppc64",
}

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

// only little-endian images get past Validate
var order = binary.LittleEndian

// ElfHeader is the width-independent view of an ELF file header.
type ElfHeader struct {
	Class     elf.Class
	Data      elf.Data
	Version   elf.Version
	OSABI     elf.OSABI
	Type      elf.Type
	Machine   elf.Machine
	Entry     uint64
	Phoff     uint64
	Phentsize uint16
	Phnum     uint16
}

func (h *ElfHeader) Bits() int {
	if h.Class == elf.ELFCLASS32 {
		return 32
	}
	return 64
}

func (h *ElfHeader) WordSize() int {
	return h.Bits() / 8
}

// Platform is the AT_PLATFORM string for the header's machine, or "".
func (h *ElfHeader) Platform() string {
	return machineMap[h.Machine]
}

func (h *ElfHeader) String() string {
	return fmt.Sprintf("%s %s %s entry=%#x phoff=%#x phnum=%d", h.Class, h.Type, h.Machine, h.Entry, h.Phoff, h.Phnum)
}

// ProgramHeader is the width-independent view of one program header.
type ProgramHeader struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Off    uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Prot converts the segment flags to cpu.PROT_* bits.
func (p *ProgramHeader) Prot() int {
	return flagsToProt(p.Flags)
}

// ContainsOff reports whether the file bytes [off, off+size) are copied by this segment.
func (p *ProgramHeader) ContainsOff(off, size uint64) bool {
	return off >= p.Off && off+size >= off && off+size <= p.Off+p.Filesz
}

func (p *ProgramHeader) String() string {
	return fmt.Sprintf("%-12s %s off=%#x vaddr=%#x filesz=%#x memsz=%#x align=%#x",
		p.Type, cpu.ProtString(p.Prot()), p.Off, p.Vaddr, p.Filesz, p.Memsz, p.Align)
}

func flagsToProt(flags elf.ProgFlag) int {
	prot := cpu.PROT_NONE
	if flags&elf.PF_R != 0 {
		prot |= cpu.PROT_READ
	}
	if flags&elf.PF_W != 0 {
		prot |= cpu.PROT_WRITE
	}
	if flags&elf.PF_X != 0 {
		prot |= cpu.PROT_EXEC
	}
	return prot
}

func decodeHeader(image []byte, class elf.Class) (*ElfHeader, error) {
	r := bytes.NewReader(image)
	var hdr *ElfHeader
	var version uint32
	switch class {
	case elf.ELFCLASS32:
		var h elf.Header32
		if err := binary.Read(r, order, &h); err != nil {
			return nil, models.Errorf(models.MalformedImage, "header", "truncated 32-bit header: %v", err)
		}
		version = h.Version
		hdr = &ElfHeader{
			Class:     class,
			Data:      elf.Data(h.Ident[elf.EI_DATA]),
			Version:   elf.Version(h.Ident[elf.EI_VERSION]),
			OSABI:     elf.OSABI(h.Ident[elf.EI_OSABI]),
			Type:      elf.Type(h.Type),
			Machine:   elf.Machine(h.Machine),
			Entry:     uint64(h.Entry),
			Phoff:     uint64(h.Phoff),
			Phentsize: h.Phentsize,
			Phnum:     h.Phnum,
		}
	default:
		var h elf.Header64
		if err := binary.Read(r, order, &h); err != nil {
			return nil, models.Errorf(models.MalformedImage, "header", "truncated 64-bit header: %v", err)
		}
		version = h.Version
		hdr = &ElfHeader{
			Class:     class,
			Data:      elf.Data(h.Ident[elf.EI_DATA]),
			Version:   elf.Version(h.Ident[elf.EI_VERSION]),
			OSABI:     elf.OSABI(h.Ident[elf.EI_OSABI]),
			Type:      elf.Type(h.Type),
			Machine:   elf.Machine(h.Machine),
			Entry:     h.Entry,
			Phoff:     h.Phoff,
			Phentsize: h.Phentsize,
			Phnum:     h.Phnum,
		}
	}
	if version != uint32(elf.EV_CURRENT) {
		return nil, models.Errorf(models.UnsupportedFormat, "version", "e_version %d", version)
	}
	return hdr, nil
}

// ProgramHeaders decodes the program header table described by hdr.
func ProgramHeaders(image []byte, hdr *ElfHeader) ([]ProgramHeader, error) {
	var entSize uint64 = 56
	if hdr.Class == elf.ELFCLASS32 {
		entSize = 32
	}
	if hdr.Phnum == 0 {
		return nil, models.Errorf(models.MalformedImage, "phnum", "image has no program headers")
	}
	if uint64(hdr.Phentsize) < entSize {
		return nil, models.Errorf(models.MalformedImage, "phentsize", "phentsize %d smaller than %d", hdr.Phentsize, entSize)
	}
	tableSize := uint64(hdr.Phentsize) * uint64(hdr.Phnum)
	if hdr.Phoff > uint64(len(image)) || tableSize > uint64(len(image))-hdr.Phoff {
		return nil, models.Errorf(models.MalformedImage, "phoff", "program headers %#x(%#x) outside %#x byte image",
			hdr.Phoff, tableSize, len(image))
	}
	progs := make([]ProgramHeader, hdr.Phnum)
	for i := range progs {
		off := hdr.Phoff + uint64(i)*uint64(hdr.Phentsize)
		r := bytes.NewReader(image[off : off+entSize])
		p := &progs[i]
		if hdr.Class == elf.ELFCLASS32 {
			var ph elf.Prog32
			if err := binary.Read(r, order, &ph); err != nil {
				return nil, models.Errorf(models.MalformedImage, "phdr", "program header %d: %v", i, err)
			}
			*p = ProgramHeader{
				Type:   elf.ProgType(ph.Type),
				Flags:  elf.ProgFlag(ph.Flags),
				Off:    uint64(ph.Off),
				Vaddr:  uint64(ph.Vaddr),
				Filesz: uint64(ph.Filesz),
				Memsz:  uint64(ph.Memsz),
				Align:  uint64(ph.Align),
			}
		} else {
			var ph elf.Prog64
			if err := binary.Read(r, order, &ph); err != nil {
				return nil, models.Errorf(models.MalformedImage, "phdr", "program header %d: %v", i, err)
			}
			*p = ProgramHeader{
				Type:   elf.ProgType(ph.Type),
				Flags:  elf.ProgFlag(ph.Flags),
				Off:    ph.Off,
				Vaddr:  ph.Vaddr,
				Filesz: ph.Filesz,
				Memsz:  ph.Memsz,
				Align:  ph.Align,
			}
		}
		if p.Type == elf.PT_LOAD && p.Memsz < p.Filesz {
			return nil, models.Errorf(models.MalformedImage, "memsz", "segment %d memsz %#x < filesz %#x", i, p.Memsz, p.Filesz)
		}
	}
	return progs, nil
}

// Interp returns the PT_INTERP path, if any.
func Interp(image []byte, progs []ProgramHeader) string {
	for _, p := range progs {
		if p.Type == elf.PT_INTERP && p.Off < uint64(len(image)) && p.Filesz <= uint64(len(image))-p.Off {
			return string(bytes.TrimRight(image[p.Off:p.Off+p.Filesz], "\x00"))
		}
	}
	return ""
}
