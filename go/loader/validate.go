package loader

import (
	"bytes"
	"debug/elf"

	"github.com/lunixbochs/elfload/go/models"
)

// Validate checks the identification bytes and object type of image and
// returns its decoded header. It does not look at the program headers.
func Validate(image []byte) (*ElfHeader, error) {
	if len(image) < len(elfMagic) || !bytes.Equal(image[:len(elfMagic)], elfMagic) {
		return nil, models.Errorf(models.InvalidMagic, "magic", "missing \\x7fELF signature")
	}
	if len(image) < elf.EI_NIDENT {
		return nil, models.Errorf(models.InvalidMagic, "ident", "%d byte image is shorter than e_ident", len(image))
	}
	class := elf.Class(image[elf.EI_CLASS])
	switch class {
	case elf.ELFCLASS32, elf.ELFCLASS64:
	default:
		return nil, models.Errorf(models.UnsupportedFormat, "class", "%s", class)
	}
	if data := elf.Data(image[elf.EI_DATA]); data != elf.ELFDATA2LSB {
		return nil, models.Errorf(models.UnsupportedFormat, "data", "%s", data)
	}
	if v := elf.Version(image[elf.EI_VERSION]); v != elf.EV_CURRENT {
		return nil, models.Errorf(models.UnsupportedFormat, "version", "%s", v)
	}
	hdr, err := decodeHeader(image, class)
	if err != nil {
		return nil, err
	}
	if hdr.Type != elf.ET_EXEC && hdr.Type != elf.ET_DYN {
		return nil, models.Errorf(models.UnsupportedObjectType, "type", "%s", hdr.Type)
	}
	return hdr, nil
}

// Check applies the width and machine restrictions of cfg.
func (h *ElfHeader) Check(cfg *models.Config) error {
	if cfg.Bits != 0 && cfg.Bits != h.Bits() {
		return models.Errorf(models.UnsupportedFormat, "class", "%d-bit image, want %d-bit", h.Bits(), cfg.Bits)
	}
	if cfg.Machine != 0 && elf.Machine(cfg.Machine) != h.Machine {
		return models.Errorf(models.UnsupportedFormat, "machine", "%s, want %s", h.Machine, elf.Machine(cfg.Machine))
	}
	return nil
}
