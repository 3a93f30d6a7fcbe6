package models

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"os"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

const (
	ELF_AT_NULL = iota
	ELF_AT_IGNORE
	ELF_AT_EXECFD
	ELF_AT_PHDR
	ELF_AT_PHENT
	ELF_AT_PHNUM
	ELF_AT_PAGESZ
	ELF_AT_BASE
	ELF_AT_FLAGS
	ELF_AT_ENTRY
	ELF_AT_NOTELF
	ELF_AT_UID
	ELF_AT_EUID
	ELF_AT_GID
	ELF_AT_EGID
	ELF_AT_PLATFORM
	ELF_AT_HWCAP
	ELF_AT_CLKTCK       = 17
	ELF_AT_SECURE       = 23
	ELF_AT_RANDOM       = 25
	ELF_AT_EXECFN       = 31
	ELF_AT_SYSINFO      = 32
	ELF_AT_SYSINFO_EHDR = 33
)

// auxv words are packed little-endian, the only encoding the loader accepts
var order = binary.LittleEndian

// Auxv is one auxiliary vector entry. When Data is set the stack builder copies
// it into the stack's string area and replaces Val with its address.
type Auxv struct {
	Type, Val uint64
	Data      []byte
}

type Elf32Auxv struct {
	Type, Val uint32
}

type Elf64Auxv struct {
	Type, Val uint64
}

// AuxvInfo carries the load facts the standard auxv table describes.
type AuxvInfo struct {
	PhdrAddr uint64
	Phent    uint64
	Phnum    uint64
	PageSize uint64
	// interpreter base, 0 when the image is entered directly
	InterpBase uint64
	Entry      uint64
	Platform   string
	// 16 bytes for AT_RANDOM, read from crypto/rand when nil
	Random []byte
}

// StandardAuxv builds the auxv table the Linux kernel hands a new process,
// without the terminating AT_NULL.
func StandardAuxv(info AuxvInfo) ([]Auxv, error) {
	random := info.Random
	if random == nil {
		random = make([]byte, 16)
		if _, err := rand.Read(random); err != nil {
			return nil, errors.Wrap(err, "failed to read AT_RANDOM bytes")
		}
	}
	var auxv []Auxv
	if info.PhdrAddr != 0 {
		auxv = append(auxv,
			Auxv{Type: ELF_AT_PHDR, Val: info.PhdrAddr},
			Auxv{Type: ELF_AT_PHENT, Val: info.Phent},
			Auxv{Type: ELF_AT_PHNUM, Val: info.Phnum},
		)
	}
	auxv = append(auxv, []Auxv{
		{Type: ELF_AT_PAGESZ, Val: info.PageSize},
		{Type: ELF_AT_BASE, Val: info.InterpBase},
		{Type: ELF_AT_FLAGS, Val: 0},
		{Type: ELF_AT_ENTRY, Val: info.Entry},
		{Type: ELF_AT_UID, Val: uint64(os.Getuid())},
		{Type: ELF_AT_EUID, Val: uint64(os.Geteuid())},
		{Type: ELF_AT_GID, Val: uint64(os.Getgid())},
		{Type: ELF_AT_EGID, Val: uint64(os.Getegid())},
		{Type: ELF_AT_CLKTCK, Val: 100}, // 100hz, matches USER_HZ
		{Type: ELF_AT_SECURE, Val: 0},
		{Type: ELF_AT_RANDOM, Data: random},
	}...)
	if info.Platform != "" {
		auxv = append(auxv, Auxv{Type: ELF_AT_PLATFORM, Data: []byte(info.Platform + "\x00")})
	}
	return auxv, nil
}

// PackAuxv writes auxv followed by an AT_NULL terminator, using 4 or 8 byte
// words for bits 32 or 64. Data payloads must already be resolved into Val.
func PackAuxv(w io.Writer, auxv []Auxv, bits int) error {
	terminated := append(auxv[:len(auxv):len(auxv)], Auxv{Type: ELF_AT_NULL})
	for _, a := range terminated {
		switch bits {
		case 32:
			if a.Type > 0xffffffff || a.Val > 0xffffffff {
				return errors.Errorf("auxv entry %d value %#x does not fit 32 bits", a.Type, a.Val)
			}
			if err := struc.PackWithOrder(w, &Elf32Auxv{uint32(a.Type), uint32(a.Val)}, order); err != nil {
				return errors.Wrap(err, "failed to pack auxv")
			}
		case 64:
			if err := struc.PackWithOrder(w, &Elf64Auxv{a.Type, a.Val}, order); err != nil {
				return errors.Wrap(err, "failed to pack auxv")
			}
		default:
			return errors.Errorf("unsupported word width: %d", bits)
		}
	}
	return nil
}

// AuxvSize is the packed size of auxv plus its terminator.
func AuxvSize(n, bits int) int {
	return (n + 1) * 2 * bits / 8
}

// UnpackAuxv reads auxv pairs up to and including AT_NULL, which is not
// returned.
func UnpackAuxv(r io.Reader, bits int) ([]Auxv, error) {
	var auxv []Auxv
	for {
		var a Auxv
		switch bits {
		case 32:
			var e Elf32Auxv
			if err := struc.UnpackWithOrder(r, &e, order); err != nil {
				return nil, errors.Wrap(err, "failed to unpack auxv")
			}
			a = Auxv{Type: uint64(e.Type), Val: uint64(e.Val)}
		case 64:
			var e Elf64Auxv
			if err := struc.UnpackWithOrder(r, &e, order); err != nil {
				return nil, errors.Wrap(err, "failed to unpack auxv")
			}
			a = Auxv{Type: e.Type, Val: e.Val}
		default:
			return nil, errors.Errorf("unsupported word width: %d", bits)
		}
		if a.Type == ELF_AT_NULL {
			return auxv, nil
		}
		auxv = append(auxv, a)
	}
}
