package cmd

import (
	"context"
	"flag"
	"io"

	"github.com/google/subcommands"

	"github.com/lunixbochs/elfload/go/loader"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	Out io.Writer

	check bool
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "validate an executable and print its program headers"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [-check] <executable> - print the ELF header, the program headers and the
page-aligned span each PT_LOAD segment would map.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&i.check, "check", false, "also apply the config's bits and machine restrictions")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := configArg(args)
	image, err := readImage(f.Arg(0))
	if err != nil {
		PrintError(i.Out, err)
		return subcommands.ExitFailure
	}
	hdr, err := loader.Validate(image)
	if err != nil {
		PrintError(i.Out, err)
		return subcommands.ExitFailure
	}
	if i.check {
		if err := hdr.Check(conf); err != nil {
			PrintError(i.Out, err)
			return subcommands.ExitFailure
		}
	}
	progs, err := loader.ProgramHeaders(image, hdr)
	if err != nil {
		PrintError(i.Out, err)
		return subcommands.ExitFailure
	}
	printHeader(i.Out, image, hdr, progs, conf.PageSize)
	return subcommands.ExitSuccess
}
