package cpu

// Memory abstracts the address space a program image is loaded into.
// Implementations exist for a simulated address space (Mem), the host process
// and the Unicorn emulator.
type Memory interface {
	// granularity of every mapping and protection change
	PageSize() uint64

	// MemMapProt maps zeroed anonymous memory at exactly addr.
	// It must fail rather than replace an existing mapping.
	MemMapProt(addr, size uint64, prot int) error
	// MemMapAny maps zeroed anonymous memory wherever there is room and returns its address.
	MemMapAny(size uint64, prot int) (uint64, error)
	MemProt(addr, size uint64, prot int) error
	MemUnmap(addr, size uint64) error

	// memory IO, ignoring protections
	MemRead(addr, size uint64) ([]byte, error)
	MemReadInto(p []byte, addr uint64) error
	MemWrite(addr uint64, p []byte) error

	// SyncICache makes code written to addr:size visible to instruction fetch.
	SyncICache(addr, size uint64) error
}
