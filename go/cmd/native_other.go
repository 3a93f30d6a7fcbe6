//go:build !linux

package cmd

import (
	"io"

	"github.com/google/subcommands"
)

// native loading is linux only
func registerNative(cdr *subcommands.Commander, group string, out io.Writer) {}
