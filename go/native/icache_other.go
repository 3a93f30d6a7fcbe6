//go:build linux && !(amd64 || 386)

package native

import (
	"runtime"

	"github.com/pkg/errors"
)

// TODO: flush with the arch cache maintenance instructions on arm64 and riscv64
func syncICache(addr, size uint64) error {
	return errors.Errorf("instruction cache sync is not implemented on %s", runtime.GOARCH)
}
