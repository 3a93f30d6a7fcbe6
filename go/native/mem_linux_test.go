//go:build linux && amd64

package native

import (
	"bufio"
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"strings"
	"testing"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/lunixbochs/elfload/go/loader"
	"github.com/lunixbochs/elfload/go/loader/elftest"
	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

// hostPerms returns the /proc/self/maps permission string of the mapping
// containing addr.
func hostPerms(t *testing.T, addr uint64) string {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		t.Skip(err)
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var start, end uint64
		var perms string
		if _, err := fmt.Sscanf(s.Text(), "%x-%x %s", &start, &end, &perms); err != nil {
			continue
		}
		if start <= addr && addr < end {
			return perms[:3]
		}
	}
	t.Fatalf("%#x not in /proc/self/maps", addr)
	return ""
}

func TestMemMap(t *testing.T) {
	m := NewMem()
	size := m.PageSize() * 2
	addr, err := m.MemMapAny(size, cpu.PROT_READ|cpu.PROT_WRITE)
	if err != nil {
		t.Fatal(err)
	}
	defer m.MemUnmap(addr, size)
	if err := m.MemWrite(addr+10, []byte("host")); err != nil {
		t.Fatal(err)
	}
	got, err := m.MemRead(addr+10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "host" {
		t.Errorf("read back %q", got)
	}
	if err := m.MemMapProt(addr, m.PageSize(), cpu.PROT_READ); err == nil {
		t.Error("fixed mapping replaced an existing one")
	}
	if err := m.MemWrite(addr+size-2, []byte("abcd")); err == nil {
		t.Error("write past the mapping accepted")
	}
	if err := m.MemProt(addr, m.PageSize(), cpu.PROT_READ); err != nil {
		t.Fatal(err)
	}
	if perms := hostPerms(t, addr); perms != "r--" {
		t.Errorf("host perms %s, want r--", perms)
	}
}

func TestMemUnmapForeign(t *testing.T) {
	m := NewMem()
	x := make([]byte, 64)
	addr := uint64(uintptr(unsafe.Pointer(&x[0]))) &^ (m.PageSize() - 1)
	if err := m.MemUnmap(addr, m.PageSize()); err == nil {
		t.Error("unmapped memory the loader does not own")
	}
	if _, err := m.MemRead(addr, 1); err == nil {
		t.Error("read memory the loader does not own")
	}
}

func TestNativeLoad(t *testing.T) {
	code := []byte{0x31, 0xc0, 0xc3} // xor eax, eax; ret
	image := (&elftest.Image{
		Type:  elf.ET_DYN,
		Entry: 0x1000,
		Segments: []elftest.Segment{
			{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x1000, Data: code},
			{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0x2000, Data: []byte("rw"), Memsz: 0x3000},
			{Type: elf.PT_GNU_STACK, Flags: elf.PF_R | elf.PF_W},
		},
	}).MustBuild()

	mem := NewMem()
	l := loader.NewLoader(mem)
	l.Config = HostConfig()
	res, err := l.Load(image, loader.Process{Args: []string{"native"}, Env: []string{"A=1"}, StandardAuxv: true})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := loader.Unload(mem, res); err != nil {
			t.Error(err)
		}
	}()
	if res.Entry-res.Base != 0x1000 {
		t.Errorf("entry %#x base %#x", res.Entry, res.Base)
	}
	got, err := mem.MemRead(res.Entry, uint64(len(code)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, code) {
		t.Errorf("code mismatch %x", got)
	}
	table := []struct {
		addr  uint64
		perms string
	}{
		{res.Entry, "r-x"},
		{res.Base + 0x4000, "rw-"},
		{res.StackPointer, "rw-"},
	}
	for _, v := range table {
		if perms := hostPerms(t, v.addr); perms != v.perms {
			t.Errorf("%#x: host perms %s, want %s", v.addr, perms, v.perms)
		}
	}
	bss, err := mem.MemRead(res.Base+0x2002, 0x2ffe)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(bss, make([]byte, len(bss))) {
		t.Error("bss is not zero")
	}
	argc, err := mem.MemRead(res.StackPointer, 8)
	if err != nil {
		t.Fatal(err)
	}
	if argc[0] != 1 {
		t.Errorf("argc %x", argc)
	}
}

func TestNativeRejectsForeignWidth(t *testing.T) {
	image := (&elftest.Image{
		Class: elf.ELFCLASS32,
		Entry: 0x8049000,
		Segments: []elftest.Segment{
			{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_X, Vaddr: 0x8049000, Data: []byte{0xc3}},
		},
	}).MustBuild()
	l := loader.NewLoader(NewMem())
	l.Config = HostConfig()
	_, err := l.Load(image, loader.Process{})
	if !errors.Is(err, &models.LoadError{Kind: models.UnsupportedFormat, Field: "class"}) {
		t.Errorf("got %v, want unsupported class", err)
	}
	if !strings.Contains(err.Error(), "32-bit") {
		t.Errorf("unhelpful error %q", err)
	}
}
