package loader

import (
	"debug/elf"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/lunixbochs/elfload/go/loader/elftest"
	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

func TestPlanGeometry(t *testing.T) {
	table := []struct {
		vaddr, memsz             uint64
		mapStart, head, mapSize uint64
	}{
		{0x1000, 0x10, 0x1000, 0, 0x1000},
		{0x1010, 0x1000, 0x1000, 0x10, 0x2000},
		{0x1ff0, 0x10, 0x1000, 0xff0, 0x1000},
		{0x1ff0, 0x11, 0x1000, 0xff0, 0x2000},
		{0x400000, 0x1000, 0x400000, 0, 0x1000},
	}
	for _, v := range table {
		p := planSegment(0, &ProgramHeader{Type: elf.PT_LOAD, Vaddr: v.vaddr, Filesz: 1, Memsz: v.memsz}, 0x1000)
		if p.mapStart != v.mapStart || p.head != v.head || p.mapSize != v.mapSize {
			t.Errorf("%#x(%#x): got start %#x head %#x size %#x, want %#x %#x %#x",
				v.vaddr, v.memsz, p.mapStart, p.head, p.mapSize, v.mapStart, v.head, v.mapSize)
		}
	}
}

func TestPlanSegments(t *testing.T) {
	image := make([]byte, 0x100)
	progs := []ProgramHeader{
		{Type: elf.PT_LOAD, Flags: elf.PF_R, Off: 0, Vaddr: 0x1000, Filesz: 0x10, Memsz: 0x10},
		{Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Off: 0, Vaddr: 0x5000, Filesz: 0, Memsz: 0x1000},
		{Type: elf.PT_DYNAMIC, Flags: elf.PF_R, Off: 0x10, Vaddr: 0x1010, Filesz: 0x10, Memsz: 0x10},
		// shares a page with the first segment, same protection
		{Type: elf.PT_LOAD, Flags: elf.PF_R, Off: 0x20, Vaddr: 0x1800, Filesz: 0x10, Memsz: 0x1000},
	}
	plans, err := planSegments(image, progs, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	var idx []int
	for _, p := range plans {
		idx = append(idx, p.index)
	}
	if diff := cmp.Diff([]int{0, 3}, idx); diff != "" {
		t.Errorf("planned segments mismatch (-want +got):\n%s", diff)
	}
	if span := imageSpan(plans); span != (models.Segment{Start: 0x1000, End: 0x3000}) {
		t.Errorf("bad image span %#v", span)
	}

	progs[3].Off = 0xf8
	if _, err := planSegments(image, progs, 0x1000); !errors.Is(err, models.ErrMalformedImage) {
		t.Errorf("segment past the end of the image accepted: %v", err)
	}
	progs[3].Off = 0x20
	progs[3].Flags = elf.PF_R | elf.PF_W
	if _, err := planSegments(image, progs, 0x1000); !errors.Is(err, models.ErrSegmentOverlap) {
		t.Errorf("conflicting protections on a shared page accepted: %v", err)
	}
	progs[0].Vaddr, progs[0].Memsz = ^uint64(0)-0x10, 0x100
	if _, err := planSegments(image, progs, 0x1000); !errors.Is(err, models.ErrMalformedImage) {
		t.Errorf("wrapping segment accepted: %v", err)
	}
}

func TestMapSharedPage(t *testing.T) {
	mem := newMem()
	img := &elftest.Image{
		Entry: 0x401000,
		Segments: []elftest.Segment{
			{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x401000, Data: []byte("first")},
			{Type: elf.PT_LOAD, Flags: elf.PF_R, Vaddr: 0x401800, Data: []byte("second"), Memsz: 0x1000},
		},
	}
	image := img.MustBuild()
	hdr, err := Validate(image)
	if err != nil {
		t.Fatal(err)
	}
	progs, err := ProgramHeaders(image, hdr)
	if err != nil {
		t.Fatal(err)
	}
	m, err := MapSegments(mem, image, hdr, progs, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Regions) != 2 || m.Regions[0].Size != 0x1000 || m.Regions[1].Addr != 0x402000 {
		t.Errorf("expected the second segment to map only its new page, got %v", m.Regions)
	}
	first, _ := mem.MemRead(0x401000, 5)
	second, _ := mem.MemRead(0x401800, 6)
	if string(first) != "first" || string(second) != "second" {
		t.Errorf("shared page holds %q and %q", first, second)
	}
	if m.Low != 0x401000 || m.High != 0x403000 || m.GnuStack {
		t.Errorf("bad mapped image %+v", m)
	}
	// the program headers live at file offset 64, which no segment copies
	if m.PhdrAddr != 0 {
		t.Errorf("phdr address %#x for an unmapped table", m.PhdrAddr)
	}
}

func TestMapGnuStack(t *testing.T) {
	for _, flags := range []elf.ProgFlag{elf.PF_R | elf.PF_W, elf.PF_R | elf.PF_W | elf.PF_X} {
		mem := newMem()
		cfg := models.DefaultConfig()
		stack, err := NewStackBuilder(mem, cfg, 8).Allocate()
		if err != nil {
			t.Fatal(err)
		}
		img := exeImage()
		img.Segments[1].Flags = flags
		image := img.MustBuild()
		hdr, _ := Validate(image)
		progs, _ := ProgramHeaders(image, hdr)
		m, err := MapSegments(mem, image, hdr, progs, stack)
		if err != nil {
			t.Fatal(err)
		}
		want := flagsToProt(flags)
		if !m.GnuStack || m.StackProt != want || stack.Prot != want {
			t.Errorf("%s: stack prot %s, region %s", flags, cpu.ProtString(m.StackProt), stack)
		}
		if prot := protAt(t, mem, stack.Addr); prot != want {
			t.Errorf("%s: stack memory is %s", flags, cpu.ProtString(prot))
		}
	}
}

func TestMapPhdrInSegment(t *testing.T) {
	image := exeImage().MustBuild()
	hdr, _ := Validate(image)
	progs, _ := ProgramHeaders(image, hdr)
	// pretend the first segment starts at file offset 0 so it covers the table
	progs[0].Off, progs[0].Vaddr, progs[0].Filesz = 0, 0x400000, 0x100
	if addr := phdrAddr(hdr, progs); addr != 0x400040 {
		t.Errorf("phdr at %#x, want 0x400040", addr)
	}
}

func TestProbeReleased(t *testing.T) {
	mem := newMem()
	image := pieImage().MustBuild()
	hdr, _ := Validate(image)
	progs, _ := ProgramHeaders(image, hdr)
	m, err := MapSegments(mem, image, hdr, progs, nil)
	if err != nil {
		t.Fatal(err)
	}
	var mapped uint64
	for _, pg := range mem.Mappings() {
		mapped += pg.Size
	}
	// text page plus three data pages, nothing left over from the probe
	if mapped != 0x4000 {
		t.Errorf("%#x bytes mapped:\n%s", mapped, mem.Mappings())
	}
	if m.Low != m.Bias+0x1000 || m.High != m.Bias+0x6000 {
		t.Errorf("bad bounds %#x-%#x for bias %#x", m.Low, m.High, m.Bias)
	}
}

func TestMapTeardown(t *testing.T) {
	mem := newMem()
	img := exeImage()
	img.Segments = append(img.Segments, elftest.Segment{
		Type: elf.PT_LOAD, Flags: elf.PF_R | elf.PF_W, Vaddr: 0x500000, Data: []byte{1},
	})
	image := img.MustBuild()
	hdr, _ := Validate(image)
	progs, _ := ProgramHeaders(image, hdr)
	// block the second segment so the first has to be released again
	if err := mem.MemMapProt(0x500000, 0x1000, cpu.PROT_READ); err != nil {
		t.Fatal(err)
	}
	if _, err := MapSegments(mem, image, hdr, progs, nil); !errors.Is(err, models.ErrMappingFailure) {
		t.Fatalf("got %v, want mapping failure", err)
	}
	if pg := mem.Mappings().Find(0x401000); pg != nil {
		t.Errorf("first segment left mapped: %s", pg)
	}
}
