package loader

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

// InitialStack is a process's initial stack as found in memory.
type InitialStack struct {
	Args, Env []string
	Auxv      []models.Auxv
}

func readPointers(s *models.StrucStream, wordSize int) ([]uint64, error) {
	var ptrs []uint64
	for {
		p, err := s.ReadWord(wordSize)
		if err != nil {
			return nil, err
		}
		if p == 0 {
			return ptrs, nil
		}
		ptrs = append(ptrs, p)
	}
}

func readStrings(mem cpu.Memory, ptrs []uint64) ([]string, error) {
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		r := &models.MemIO{Mem: mem, Addr: p}
		s, err := r.ReadCString()
		if err != nil {
			return nil, errors.Wrapf(err, "string at %#x", p)
		}
		out[i] = s
	}
	return out, nil
}

// ReadStack decodes the argc/argv/envp/auxv frame at sp the way a starting
// process would.
func ReadStack(mem cpu.Memory, sp uint64, wordSize int) (*InitialStack, error) {
	s := &models.StrucStream{Stream: &models.MemIO{Mem: mem, Addr: sp}, Order: order}
	argc, err := s.ReadWord(wordSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read argc")
	}
	argv, err := readPointers(s, wordSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read argv")
	}
	if uint64(len(argv)) != argc {
		return nil, errors.Errorf("argc is %d but argv holds %d pointers", argc, len(argv))
	}
	envp, err := readPointers(s, wordSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read envp")
	}
	auxv, err := models.UnpackAuxv(s.Stream, wordSize*8)
	if err != nil {
		return nil, err
	}
	stack := &InitialStack{Auxv: auxv}
	if stack.Args, err = readStrings(mem, argv); err != nil {
		return nil, errors.Wrap(err, "failed to read argv")
	}
	if stack.Env, err = readStrings(mem, envp); err != nil {
		return nil, errors.Wrap(err, "failed to read envp")
	}
	return stack, nil
}
