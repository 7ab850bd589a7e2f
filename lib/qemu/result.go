package qemu

import (
	"context"
	"os"
	"os/exec"
	"strings"
)

// firstPassedFD is the descriptor number of ExtraFiles[0] in the child.
const firstPassedFD = 3

// Argument is one command line flag with its value. A flag that takes no
// value is marked Switch; any other flag keeps its value in argv even when
// the value is empty.
type Argument struct {
	Flag   string
	Value  string
	Switch bool
}

func (a Argument) String() string {
	if a.Switch {
		return a.Flag
	}
	return a.Flag + " " + a.Value
}

// Result is the output of a successful synthesis.
type Result struct {
	Args []Argument
	// Files are inherited by QEMU in order, so Files[i] is descriptor 3+i.
	Files []*os.File
	Env   []string
}

// Argv flattens the arguments into an argv tail.
func (r *Result) Argv() []string {
	out := make([]string, 0, len(r.Args)*2)
	for _, a := range r.Args {
		out = append(out, a.Flag)
		if !a.Switch {
			out = append(out, a.Value)
		}
	}
	return out
}

// Values returns every value passed with flag, in order.
func (r *Result) Values(flag string) []string {
	var out []string
	for _, a := range r.Args {
		if a.Flag == flag {
			out = append(out, a.Value)
		}
	}
	return out
}

// String renders the command line for logs. It is not shell-quoted.
func (r *Result) String() string {
	return strings.Join(r.Argv(), " ")
}

// Command builds the QEMU process. The caller owns starting it and must call
// Close once the process has been started (or abandoned).
func (r *Result) Command(ctx context.Context, binary string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, binary, r.Argv()...)
	cmd.ExtraFiles = r.Files
	cmd.Env = r.Env
	return cmd
}

// Close releases the descriptors held by the result.
func (r *Result) Close() error {
	return closeFiles(r.Files)
}
