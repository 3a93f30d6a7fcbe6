package cpu

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// only little-endian images are loaded, so words are always packed LSB first
var order = binary.LittleEndian

func PackUint(size int, buf []byte, n uint64) ([]byte, error) {
	if buf == nil {
		buf = make([]byte, size)
	} else if len(buf) < size {
		return nil, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	switch size {
	case 8:
		order.PutUint64(buf[:size], n)
	case 4:
		if n > 0xffffffff {
			return nil, errors.Errorf("value %#x does not fit in 4 bytes", n)
		}
		order.PutUint32(buf[:size], uint32(n))
	default:
		return nil, errors.Errorf("unsupported word size: %d", size)
	}
	return buf[:size], nil
}

func UnpackUint(size int, buf []byte) (uint64, error) {
	if len(buf) < size {
		return 0, errors.Errorf("buffer too small (%d < %d)", len(buf), size)
	}
	switch size {
	case 8:
		return order.Uint64(buf), nil
	case 4:
		return uint64(order.Uint32(buf)), nil
	default:
		return 0, errors.Errorf("unsupported word size: %d", size)
	}
}
