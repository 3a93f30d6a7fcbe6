package cmd

import (
	"context"
	"flag"
	"io"

	"github.com/google/subcommands"

	"github.com/lunixbochs/elfload/go/native"
)

func registerNative(cdr *subcommands.Commander, group string, out io.Writer) {
	cdr.Register(&Native{Out: out}, group)
}

// Native implements subcommands.Command for the "native" command.
type Native struct {
	Out io.Writer

	flags loadFlags
}

// Name implements subcommands.Command.Name.
func (*Native) Name() string {
	return "native"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Native) Synopsis() string {
	return "load an executable into this process and print the process image"
}

// Usage implements subcommands.Command.Usage.
func (*Native) Usage() string {
	return `native [options] <executable> [args...] - map an executable into the elfload process
itself with real mmap and mprotect calls, print the result and unmap it again.

Only images for the host's machine and word size are accepted. Control is never
transferred to the loaded image.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (n *Native) SetFlags(f *flag.FlagSet) {
	n.flags.register(f)
}

// Execute implements subcommands.Command.Execute.
func (n *Native) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	host := native.HostConfig()
	conf := *configArg(args)
	conf.PageSize, conf.Bits, conf.Machine = host.PageSize, host.Bits, host.Machine
	c, err := n.flags.apply(&conf)
	if err != nil {
		PrintError(n.Out, err)
		return subcommands.ExitUsageError
	}
	image, err := readImage(f.Arg(0))
	if err != nil {
		PrintError(n.Out, err)
		return subcommands.ExitFailure
	}
	if err := loadAndPrint(n.Out, native.NewMem(), c, image, n.flags.process(n.Out, f.Args())); err != nil {
		PrintError(n.Out, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
