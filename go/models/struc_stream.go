package models

import (
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

type StrucStream struct {
	Stream io.ReadWriter
	Order  binary.ByteOrder
}

func (s *StrucStream) Pack(i interface{}) error {
	return struc.PackWithOrder(s.Stream, i, s.Order)
}

func (s *StrucStream) Unpack(i interface{}) error {
	return struc.UnpackWithOrder(s.Stream, i, s.Order)
}

// ReadWord unpacks one 4 or 8 byte word.
func (s *StrucStream) ReadWord(size int) (uint64, error) {
	switch size {
	case 4:
		var w uint32
		err := binary.Read(s.Stream, s.Order, &w)
		return uint64(w), err
	case 8:
		var w uint64
		err := binary.Read(s.Stream, s.Order, &w)
		return w, err
	}
	return 0, errors.Errorf("unsupported word size: %d", size)
}
