package cmd

import (
	"debug/elf"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mgutz/ansi"

	"github.com/lunixbochs/elfload/go/loader"
	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

var protStyles = map[int]string{
	cpu.PROT_READ | cpu.PROT_WRITE:                "green",
	cpu.PROT_READ | cpu.PROT_EXEC:                 "red+b",
	cpu.PROT_READ | cpu.PROT_WRITE | cpu.PROT_EXEC: "yellow+b",
}

func colorProt(prot int) string {
	return ansi.Color(cpu.ProtString(prot), protStyles[prot])
}

func sizeString(size uint64) string {
	return fmt.Sprintf("%#x (%s)", size, humanize.IBytes(size))
}

var kindNames = map[models.RegionKind]string{
	models.RegionAnon:  "anon",
	models.RegionImage: "image",
	models.RegionStack: "stack",
}

func printRegions(w io.Writer, regions []*models.Region) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range regions {
		fmt.Fprintf(tw, "  %#x-%#x\t%s\t%s\t%s\t%s\n", r.Addr, r.End(), colorProt(r.Prot), sizeString(r.Size), kindNames[r.Kind], r.Desc)
	}
	tw.Flush()
}

func printHeader(w io.Writer, image []byte, hdr *loader.ElfHeader, progs []loader.ProgramHeader, pageSize uint64) {
	fmt.Fprintf(w, "%s\n", hdr)
	fmt.Fprintf(w, "program headers:\n")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range progs {
		fmt.Fprintf(tw, "  %s\t%s\toff=%#x\tvaddr=%#x\tfilesz=%#x\tmemsz=%#x", p.Type, colorProt(p.Prot()), p.Off, p.Vaddr, p.Filesz, p.Memsz)
		if p.Type == elf.PT_LOAD && p.Filesz > 0 {
			start := p.Vaddr &^ (pageSize - 1)
			size := (p.Vaddr - start + p.Memsz + pageSize - 1) &^ (pageSize - 1)
			fmt.Fprintf(tw, "\tmap=%#x-%#x", start, start+size)
		}
		fmt.Fprintf(tw, "\n")
	}
	tw.Flush()
	if interp := loader.Interp(image, progs); interp != "" {
		fmt.Fprintf(w, "interpreter: %s\n", interp)
	}
}

// printFrame prints the frame layout alongside the strings read back from memory.
func printFrame(w io.Writer, frame *loader.StackFrame, stack *loader.InitialStack) {
	fmt.Fprintf(w, "stack: %#x-%#x %s\n", frame.Base, frame.Top, sizeString(frame.Size))
	fmt.Fprintf(w, "  sp    %#x\n", frame.SP)
	fmt.Fprintf(w, "  argc  %d\n", frame.Argc)
	for i, addr := range frame.Argv {
		fmt.Fprintf(w, "  argv[%d] %#x %q\n", i, addr, stack.Args[i])
	}
	for i, addr := range frame.Envp {
		fmt.Fprintf(w, "  envp[%d] %#x %q\n", i, addr, stack.Env[i])
	}
	for _, a := range stack.Auxv {
		fmt.Fprintf(w, "  auxv %-16s %#x\n", auxvName(a.Type), a.Val)
	}
}

var auxvNames = map[uint64]string{
	models.ELF_AT_PHDR:     "AT_PHDR",
	models.ELF_AT_PHENT:    "AT_PHENT",
	models.ELF_AT_PHNUM:    "AT_PHNUM",
	models.ELF_AT_PAGESZ:   "AT_PAGESZ",
	models.ELF_AT_BASE:     "AT_BASE",
	models.ELF_AT_FLAGS:    "AT_FLAGS",
	models.ELF_AT_ENTRY:    "AT_ENTRY",
	models.ELF_AT_UID:      "AT_UID",
	models.ELF_AT_EUID:     "AT_EUID",
	models.ELF_AT_GID:      "AT_GID",
	models.ELF_AT_EGID:     "AT_EGID",
	models.ELF_AT_PLATFORM: "AT_PLATFORM",
	models.ELF_AT_HWCAP:    "AT_HWCAP",
	models.ELF_AT_CLKTCK:   "AT_CLKTCK",
	models.ELF_AT_SECURE:   "AT_SECURE",
	models.ELF_AT_RANDOM:   "AT_RANDOM",
	models.ELF_AT_EXECFN:   "AT_EXECFN",
}

func auxvName(typ uint64) string {
	if name, ok := auxvNames[typ]; ok {
		return name
	}
	return fmt.Sprintf("AT_%d", typ)
}

func printResult(w io.Writer, res *loader.LoadResult) {
	fmt.Fprintf(w, "entry %#x\nsp    %#x\nbase  %#x\n", res.Entry, res.StackPointer, res.Base)
}
