package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/mgutz/ansi"
	"github.com/sirupsen/logrus"

	"github.com/lunixbochs/elfload/go/models"
)

// Fatalf prints to stderr and exits.
func Fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(128)
}

// NewCommander builds the command set on the already-parsed top flags, writing
// to out. The returned commander expects the *models.Config as its first
// Execute argument.
func NewCommander(top *flag.FlagSet, out io.Writer) *subcommands.Commander {
	cdr := subcommands.NewCommander(top, top.Name())
	cdr.Output = out
	cdr.Error = out
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")

	const group = "loader"
	cdr.Register(&Inspect{Out: out}, group)
	cdr.Register(&Load{Out: out}, group)
	registerNative(cdr, group, out)
	return cdr
}

func Main() {
	var (
		configPath = flag.String("config", "", "path to elfload.toml")
		verbose    = flag.Bool("v", false, "log each mapping")
		noColor    = flag.Bool("nocolor", false, "disable colored output")
	)
	cdr := NewCommander(flag.CommandLine, os.Stdout)
	flag.Usage = func() { cdr.Explain(os.Stderr) }
	flag.Parse()

	if *noColor {
		ansi.DisableColors(true)
	}
	conf, path, err := FindConfig(*configPath)
	if err != nil {
		Fatalf("error loading config: %v", err)
	}
	if *verbose || conf.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if path != "" {
		logrus.WithField("path", path).Debug("loaded config")
	}

	os.Exit(int(cdr.Execute(context.Background(), conf)))
}

// configArg pulls the config Main passes to every command.
func configArg(args []interface{}) *models.Config {
	if len(args) > 0 {
		if c, ok := args[0].(*models.Config); ok {
			return c
		}
	}
	return models.DefaultConfig()
}
