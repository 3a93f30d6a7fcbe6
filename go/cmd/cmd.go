package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type strslice []string

func (s *strslice) String() string {
	return fmt.Sprintf("%v", *s)
}

func (s *strslice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// envFlags holds the -set / -unset / -inherit options shared by the loading commands.
type envFlags struct {
	set, unset strslice
	inherit    bool
}

func (e *envFlags) register(f *flag.FlagSet) {
	f.Var(&e.set, "set", "set environment var in the form name=value")
	f.Var(&e.unset, "unset", "unset environment variable")
	f.BoolVar(&e.inherit, "inherit", false, "start from the current process environment")
}

// build merges the host environment (if inherited) with -set and -unset.
func (e *envFlags) build(w io.Writer) []string {
	var env []string
	if e.inherit {
		env = os.Environ()
	}
	envSkip := make(map[string]bool)
	var out []string
	for _, v := range e.set {
		if strings.Contains(v, "=") {
			split := strings.SplitN(v, "=", 2)
			envSkip[split[0]] = true
			out = append(out, v)
		} else {
			fmt.Fprintf(w, "warning: skipping invalid env set %#v\n", v)
		}
	}
	for _, v := range e.unset {
		envSkip[v] = true
	}
	for _, v := range env {
		if strings.Contains(v, "=") {
			split := strings.SplitN(v, "=", 2)
			if _, ok := envSkip[split[0]]; !ok {
				out = append(out, v)
			}
		}
	}
	return out
}

func readImage(path string) ([]byte, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read executable")
	}
	return image, nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints err, and a stacktrace if one was recorded.
func PrintError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(w, "Error: %s\n", err)
	var st stackTracer
	if !errors.As(err, &st) {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	// calculate column widths
	widths := make([]int, 3)
	for _, f := range frames {
		for i, s := range f {
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(w, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(w, "%s()\n", f[2])
	}
}
