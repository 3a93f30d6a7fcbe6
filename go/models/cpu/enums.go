package cpu

// these errors are reported by MemError
// values match Unicorn's uc_err for simplicity
const (
	MEM_READ_UNMAPPED  = 19
	MEM_WRITE_UNMAPPED = 20
	MEM_FETCH_UNMAPPED = 21
	MEM_WRITE_PROT     = 12
	MEM_READ_PROT      = 13
	MEM_FETCH_PROT     = 14
	MEM_MAP_CONFLICT   = 11
	MEM_MAP_RANGE      = 15
)

// these constants are used for memory protections, and match PROT_* on Linux
const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_ALL   = 7
)

// ProtString renders prot as an "rwx" mask, with "-" for missing bits.
func ProtString(prot int) string {
	prots := []int{PROT_READ, PROT_WRITE, PROT_EXEC}
	chars := []string{"r", "w", "x"}
	s := ""
	for i := range prots {
		if prot&prots[i] != 0 {
			s += chars[i]
		} else {
			s += "-"
		}
	}
	return s
}
