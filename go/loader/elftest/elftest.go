// Package elftest synthesises small ELF images for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// file offsets of PT_LOAD data are congruent to their vaddr modulo this
const PageSize = 0x1000

type header32 struct {
	Ident     [elf.EI_NIDENT]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type header64 struct {
	Ident     [elf.EI_NIDENT]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type prog32 struct {
	Type, Off, Vaddr, Paddr, Filesz, Memsz, Flags, Align uint32
}

type prog64 struct {
	Type, Flags                              uint32
	Off, Vaddr, Paddr, Filesz, Memsz, Align uint64
}

// Segment is one program header. PT_LOAD data is placed in the file by Build;
// PT_PHDR is pointed at the program header table.
type Segment struct {
	Type  elf.ProgType
	Flags elf.ProgFlag
	Vaddr uint64
	Data  []byte
	// raised to len(Data) if smaller
	Memsz uint64
	Align uint64
}

// Image describes an ELF file. Zero fields default to a 64-bit x86_64 ET_EXEC.
type Image struct {
	Class    elf.Class
	Type     elf.Type
	Machine  elf.Machine
	Entry    uint64
	Segments []Segment
}

func (i *Image) sizes() (ehsize, phentsize uint64) {
	if i.Class == elf.ELFCLASS32 {
		return 52, 32
	}
	return 64, 56
}

// Build lays out the header, the program header table and each PT_LOAD
// segment's data.
func (i *Image) Build() ([]byte, error) {
	class, typ, machine := i.Class, i.Type, i.Machine
	if class == elf.ELFCLASSNONE {
		class = elf.ELFCLASS64
	}
	if typ == elf.ET_NONE {
		typ = elf.ET_EXEC
	}
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
		if class == elf.ELFCLASS32 {
			machine = elf.EM_386
		}
	}
	ehsize, phentsize := i.sizes()
	phoff := ehsize
	phsize := phentsize * uint64(len(i.Segments))

	type placed struct {
		off, filesz, memsz uint64
	}
	layout := make([]placed, len(i.Segments))
	end := phoff + phsize
	for n, s := range i.Segments {
		memsz := s.Memsz
		if memsz < uint64(len(s.Data)) {
			memsz = uint64(len(s.Data))
		}
		switch {
		case s.Type == elf.PT_PHDR:
			layout[n] = placed{phoff, phsize, phsize}
		case s.Type == elf.PT_LOAD && len(s.Data) > 0:
			off := (end+PageSize-1)&^(PageSize-1) + s.Vaddr%PageSize
			layout[n] = placed{off, uint64(len(s.Data)), memsz}
			end = off + uint64(len(s.Data))
		default:
			layout[n] = placed{0, 0, memsz}
		}
	}

	var buf bytes.Buffer
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(class)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var hdr interface{}
	if class == elf.ELFCLASS32 {
		hdr = &header32{
			Ident: ident, Type: uint16(typ), Machine: uint16(machine), Version: uint32(elf.EV_CURRENT),
			Entry: uint32(i.Entry), Phoff: uint32(phoff), Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: uint16(len(i.Segments)),
		}
	} else {
		hdr = &header64{
			Ident: ident, Type: uint16(typ), Machine: uint16(machine), Version: uint32(elf.EV_CURRENT),
			Entry: i.Entry, Phoff: phoff, Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: uint16(len(i.Segments)),
		}
	}
	if err := struc.PackWithOrder(&buf, hdr, binary.LittleEndian); err != nil {
		return nil, errors.Wrap(err, "failed to pack ELF header")
	}
	for n, s := range i.Segments {
		l := layout[n]
		var ph interface{}
		if class == elf.ELFCLASS32 {
			ph = &prog32{
				Type: uint32(s.Type), Flags: uint32(s.Flags), Off: uint32(l.off), Vaddr: uint32(s.Vaddr),
				Paddr: uint32(s.Vaddr), Filesz: uint32(l.filesz), Memsz: uint32(l.memsz), Align: uint32(s.Align),
			}
		} else {
			ph = &prog64{
				Type: uint32(s.Type), Flags: uint32(s.Flags), Off: l.off, Vaddr: s.Vaddr,
				Paddr: s.Vaddr, Filesz: l.filesz, Memsz: l.memsz, Align: s.Align,
			}
		}
		if err := struc.PackWithOrder(&buf, ph, binary.LittleEndian); err != nil {
			return nil, errors.Wrap(err, "failed to pack program header")
		}
	}

	image := make([]byte, end)
	copy(image, buf.Bytes())
	for n, s := range i.Segments {
		if s.Type == elf.PT_LOAD && len(s.Data) > 0 {
			copy(image[layout[n].off:], s.Data)
		}
	}
	return image, nil
}

// MustBuild is Build for test tables; it panics on error.
func (i *Image) MustBuild() []byte {
	image, err := i.Build()
	if err != nil {
		panic(err)
	}
	return image
}
