//go:build linux && (amd64 || 386)

package native

// x86 keeps the instruction cache coherent with data writes
func syncICache(addr, size uint64) error {
	return nil
}
