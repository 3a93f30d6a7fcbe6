package loader

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

func newStack(t *testing.T, cfg *models.Config, word int) (*cpu.Mem, *StackBuilder, *models.Region) {
	mem := newMem()
	sb := NewStackBuilder(mem, cfg, word)
	region, err := sb.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	return mem, sb, region
}

func TestStackAllocate(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.StackBase = 0x7ff000000
	cfg.ExecStack = false
	mem, _, region := newStack(t, cfg, 8)
	if region.Addr != 0x7ff000000 || region.Size != models.DEFAULT_STACK_SIZE || region.Kind != models.RegionStack {
		t.Errorf("bad stack region %s", region)
	}
	if prot := protAt(t, mem, region.Addr); prot != cpu.PROT_READ|cpu.PROT_WRITE {
		t.Errorf("stack mapped %s", cpu.ProtString(prot))
	}
}

func TestStackAlignment(t *testing.T) {
	for _, word := range []int{4, 8} {
		for n := 0; n < 6; n++ {
			_, sb, region := newStack(t, models.DefaultConfig(), word)
			args := make([]string, n)
			for i := range args {
				args[i] = strings.Repeat("x", i+1)
			}
			frame, err := sb.Build(region, args, []string{"A=1"}, []models.Auxv{{Type: models.ELF_AT_PAGESZ, Val: 0x1000}})
			if err != nil {
				t.Fatal(err)
			}
			if frame.SP%16 != 0 {
				t.Errorf("word %d argc %d: sp %#x not aligned", word, n, frame.SP)
			}
			if frame.ArgvAddr != frame.SP+uint64(word) {
				t.Errorf("argv at %#x, sp at %#x", frame.ArgvAddr, frame.SP)
			}
			if frame.EnvpAddr != frame.ArgvAddr+uint64((n+1)*word) {
				t.Errorf("envp at %#x, argv at %#x", frame.EnvpAddr, frame.ArgvAddr)
			}
			if frame.AuxvAddr+uint64(models.AuxvSize(1, word*8)) > frame.StringsAddr {
				t.Error("auxv runs into the string area")
			}
		}
	}
}

func TestStackOverflowWritesNothing(t *testing.T) {
	cfg := models.DefaultConfig()
	table := [][]string{
		{strings.Repeat("a", int(cfg.StringSize))},
		make([]string, cfg.PointerSize/8),
	}
	for _, args := range table {
		mem, sb, region := newStack(t, cfg, 8)
		_, err := sb.Build(region, args, nil, nil)
		if !errors.Is(err, models.ErrStackOverflow) {
			t.Errorf("got %v, want stack overflow", err)
		}
		top, err := mem.MemRead(region.End()-cfg.StringSize-cfg.PointerSize, cfg.StringSize+cfg.PointerSize)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(top, make([]byte, len(top))) {
			t.Error("failed build wrote to the stack")
		}
	}
}

func TestStackExactFit(t *testing.T) {
	cfg := models.DefaultConfig()
	_, sb, region := newStack(t, cfg, 8)
	// fills the string area exactly, NUL included
	arg := strings.Repeat("b", int(cfg.StringSize)-1)
	frame, err := sb.Build(region, []string{arg}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Argv[0] != frame.StringsAddr || frame.StringsAddr+cfg.StringSize != frame.Top {
		t.Errorf("bad string placement: %+v", frame)
	}
}

func TestStackAuxvData(t *testing.T) {
	mem, sb, region := newStack(t, models.DefaultConfig(), 8)
	frame, err := sb.Build(region, []string{"a"}, nil, []models.Auxv{
		{Type: models.ELF_AT_PLATFORM, Data: []byte("x86_64\x00")},
	})
	if err != nil {
		t.Fatal(err)
	}
	addr := frame.Auxv[0].Val
	if addr != frame.StringsAddr+2 {
		t.Errorf("payload at %#x, want right after argv strings at %#x", addr, frame.StringsAddr+2)
	}
	got, err := mem.MemRead(addr, 7)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "x86_64\x00" {
		t.Errorf("payload %q", got)
	}
}

func TestStackTooSmall(t *testing.T) {
	cfg := models.DefaultConfig()
	cfg.StackSize = 0x8000
	mem := newMem()
	sb := NewStackBuilder(mem, cfg, 8)
	region, err := sb.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Build(region, nil, nil, nil); !errors.Is(err, &models.LoadError{Kind: models.StackOverflow, Field: "stack"}) {
		t.Errorf("got %v, want stack overflow", err)
	}
}

func TestStackArena(t *testing.T) {
	a := newStackArena(0x1000, 0x20, 4)
	if err := a.putWord(0x101c, 0xffffffff); err != nil {
		t.Fatal(err)
	}
	if err := a.putWord(0x101d, 1); err == nil {
		t.Error("store past the end accepted")
	}
	if err := a.put(0xfff, []byte{1}); err == nil {
		t.Error("store before the start accepted")
	}
	if err := a.putWord(0x1000, 1<<32); !errors.Is(err, models.ErrStackOverflow) {
		t.Errorf("oversized word: %v", err)
	}
	next, err := a.putWords(0x1000, []uint64{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if next != 0x100c || !bytes.Equal(a.buf[:12], []byte{1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}) {
		t.Errorf("bad word array, next %#x: %x", next, a.buf[:12])
	}
}
