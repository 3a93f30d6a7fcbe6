package cpu

import (
	"bytes"
	"testing"
)

var asdf = []byte("asdf")

func TestMem16(t *testing.T) {
	mem := NewMem(16, 0x100)
	if err := mem.MemMapProt(0x100, 0x100, 0); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := mem.MemMapProt(0xff00, 0x200, 0); err == nil {
		t.Fatal("mapped memory outside range")
	}
	if err := mem.MemMapProt(0x210, 0x100, 0); err == nil {
		t.Fatal("mapped unaligned memory")
	}
	if err := mem.MemWrite(0x200, asdf); err == nil {
		t.Error("write succeeded above mapped memory")
	}
}

func TestMem(t *testing.T) {
	mappings := [][]uint64{
		{0x1000, 0x1000, PROT_READ | PROT_WRITE | PROT_EXEC},
		{0x2000, 0x1000, PROT_READ},
		{0x3000, 0x1000, PROT_READ | PROT_WRITE},
		{0x4000, 0x1000, PROT_READ | PROT_EXEC},
		{0x5000, 0x1000, PROT_EXEC},
	}

	mem := NewMem(32, 0x1000)
	for _, v := range mappings {
		if err := mem.MemMapProt(v[0], v[1], int(v[2])); err != nil {
			t.Fatalf("failed to map memory (%#x, %#x, %d): %v", v[0], v[1], v[2], err)
		}
	}
	// fixed mappings never replace each other
	if err := mem.MemMapProt(0x2000, 0x2000, PROT_READ); err == nil {
		t.Error("MemMapProt() replaced an existing mapping")
	}
	if err := mem.MemWrite(0, asdf); err == nil {
		t.Error("write succeeded below mapped memory")
	}
	if err := mem.MemWrite(0x6000, asdf); err == nil {
		t.Error("write succeeded above mapped memory")
	}
	for _, v := range mappings {
		if err := mem.MemWrite(v[0], asdf); err != nil {
			t.Error("write failed inside mapped memory")
		}
	}
	for _, v := range mappings {
		if tmp, err := mem.MemRead(v[0], uint64(len(asdf))); err != nil {
			t.Error("read failed inside mapped memory")
		} else if !bytes.Equal(tmp, asdf) {
			t.Error("read returned bad value")
		}
	}
	// now test memory protections
	for _, v := range mappings {
		if _, err := mem.ReadProt(v[0], v[1], int(v[2])); err != nil {
			t.Errorf("valid read failed on (%#x, %#x, %d): %v", v[0], v[1], v[2], err)
		}
		if _, err := mem.ReadProt(v[0], v[1], PROT_EXEC); (v[2]&PROT_EXEC == 0 && err == nil) || (v[2]&PROT_EXEC == PROT_EXEC && err != nil) {
			t.Errorf("PROT_EXEC mismatch on (%#x, %#x, %d)", v[0], v[1], v[2])
		}
	}
	if err := mem.MemProt(0x1000, 0x2000, PROT_READ); err != nil {
		t.Fatal("MemProt failed:", err)
	}
	if _, err := mem.ReadProt(0x1000, 4, PROT_EXEC); err == nil {
		t.Error("MemProt did not drop PROT_EXEC")
	}
	if err := mem.MemProt(0x8000, 0x1000, PROT_READ); err == nil {
		t.Error("MemProt succeeded on unmapped memory")
	}
	if err := mem.MemUnmap(0x1000, 0x5000); err != nil {
		t.Fatal("MemUnmap failed:", err)
	}
	if len(mem.Mappings()) != 0 {
		t.Errorf("mappings left after unmap:\n%s", mem.Mappings())
	}
}

func TestMemMapAny(t *testing.T) {
	mem := NewMem(64, 0x1000)
	a, err := mem.MemMapAny(0x1800, PROT_READ)
	if err != nil {
		t.Fatal(err)
	}
	if a != MMAP_BASE {
		t.Errorf("first mapping at %#x, want %#x", a, MMAP_BASE)
	}
	b, err := mem.MemMapAny(0x1000, PROT_READ)
	if err != nil {
		t.Fatal(err)
	}
	if b != a+0x2000 {
		t.Errorf("second mapping at %#x, want %#x", b, a+0x2000)
	}
	// a hole left by unmap is reused
	if err := mem.MemUnmap(a, 0x2000); err != nil {
		t.Fatal(err)
	}
	c, err := mem.MemMapAny(0x1000, PROT_READ)
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Errorf("expected hole at %#x to be reused, got %#x", a, c)
	}
	// memory is zeroed
	if p, err := mem.MemRead(c, 0x1000); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(p, make([]byte, 0x1000)) {
		t.Error("MemMapAny returned dirty memory")
	}
}

func TestMemUint(t *testing.T) {
	rawtest := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	table := map[int]uint64{
		4: 0x04030201,
		8: 0x0807060504030201,
	}
	mem := NewMem(32, 0x1000)
	if err := mem.MemMapProt(0x1000, 0x1000, PROT_READ|PROT_WRITE); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := mem.MemWrite(0x1000, rawtest); err != nil {
		t.Error("failed to write memory:", err)
	}
	for size, val := range table {
		if n, err := mem.ReadUint(0x1000, size); err != nil {
			t.Error("failed to read uint:", err)
		} else if n != val {
			t.Error("inconsistent uint value:", n, val)
		}
	}
	if _, err := PackUint(4, nil, 0x100000000); err == nil {
		t.Error("PackUint accepted a value wider than the word")
	}
	if buf, err := PackUint(8, nil, 0x0807060504030201); err != nil {
		t.Error(err)
	} else if !bytes.Equal(buf, rawtest) {
		t.Errorf("PackUint produced %x", buf)
	}
}
