package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/lunixbochs/elfload/go/loader"
	"github.com/lunixbochs/elfload/go/models"
	"github.com/lunixbochs/elfload/go/models/cpu"
)

// loadFlags are shared by the commands that perform a full load.
type loadFlags struct {
	base, stackBase uint64
	stackSize       uint64
	standardAuxv    bool
	noExecStack     bool
	env             envFlags
}

func (l *loadFlags) register(f *flag.FlagSet) {
	f.Uint64Var(&l.base, "base", 0, "load bias for position independent images")
	f.Uint64Var(&l.stackBase, "stack-base", 0, "map the stack at this address")
	f.Uint64Var(&l.stackSize, "stack-size", 0, "stack size (default from config)")
	f.BoolVar(&l.standardAuxv, "auxv", false, "write the standard Linux auxv table")
	f.BoolVar(&l.noExecStack, "noexec-stack", false, "map the stack non-executable before PT_GNU_STACK is seen")
	l.env.register(f)
}

// apply returns a copy of conf with the flags applied.
func (l *loadFlags) apply(conf *models.Config) (*models.Config, error) {
	c := *conf
	if l.base != 0 {
		c.ForceBase = l.base
	}
	if l.stackBase != 0 {
		c.StackBase = l.stackBase
	}
	if l.stackSize != 0 {
		c.StackSize = l.stackSize
	}
	if l.noExecStack {
		c.ExecStack = false
	}
	return &c, c.Validate()
}

func (l *loadFlags) process(w io.Writer, args []string) loader.Process {
	return loader.Process{
		Args:         args,
		Env:          l.env.build(w),
		StandardAuxv: l.standardAuxv,
	}
}

// loadAndPrint loads image into mem, prints the result and releases it again.
func loadAndPrint(w io.Writer, mem cpu.Memory, conf *models.Config, image []byte, proc loader.Process) error {
	l := loader.NewLoader(mem)
	l.Config = conf
	res, err := l.Load(image, proc)
	if err != nil {
		return err
	}
	printResult(w, res)
	fmt.Fprintf(w, "regions:\n")
	printRegions(w, res.Regions)
	stack, err := loader.ReadStack(mem, res.StackPointer, res.Header.WordSize())
	if err != nil {
		loader.Unload(mem, res)
		return err
	}
	printFrame(w, res.Stack, stack)
	return loader.Unload(mem, res)
}

// Load implements subcommands.Command for the "load" command.
type Load struct {
	Out io.Writer

	backend string
	flags   loadFlags
}

// Name implements subcommands.Command.Name.
func (*Load) Name() string {
	return "load"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Load) Synopsis() string {
	return "load an executable into an address space and print the process image"
}

// Usage implements subcommands.Command.Usage.
func (*Load) Usage() string {
	return `load [options] <executable> [args...] - map an executable, build its initial stack
and print the entry point, stack pointer, load base, regions and stack layout.

The executable path becomes argv[0].
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Load) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.backend, "backend", "sim", "address space to load into ("+backendNames()+")")
	l.flags.register(f)
}

// Execute implements subcommands.Command.Execute.
func (l *Load) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf, err := l.flags.apply(configArg(args))
	if err != nil {
		PrintError(l.Out, err)
		return subcommands.ExitUsageError
	}
	image, err := readImage(f.Arg(0))
	if err != nil {
		PrintError(l.Out, err)
		return subcommands.ExitFailure
	}
	// the backend is sized from the header, so validate before creating it
	hdr, err := loader.Validate(image)
	if err != nil {
		PrintError(l.Out, err)
		return subcommands.ExitFailure
	}
	mem, closeMem, err := newBackend(l.backend, hdr, conf)
	if err != nil {
		PrintError(l.Out, err)
		return subcommands.ExitUsageError
	}
	defer closeMem()
	logrus.WithField("backend", l.backend).Debug("loading")
	if err := loadAndPrint(l.Out, mem, conf, image, l.flags.process(l.Out, f.Args())); err != nil {
		logrus.WithField("kind", models.KindOf(err).String()).Debug("load failed")
		PrintError(l.Out, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
