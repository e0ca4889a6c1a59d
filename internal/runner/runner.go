// Package runner executes external programs and captures their output.
// A non-zero exit is data, not an error: callers inspect Result.Code.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/badri/wtsession/internal/logging"
)

// Result is the outcome of one process execution. Stdout and Stderr are
// trimmed of surrounding whitespace.
type Result struct {
	Code   int
	Stdout string
	Stderr string
}

// OK reports whether the process exited zero.
func (r Result) OK() bool {
	return r.Code == 0
}

// ErrorText returns the captured stderr, or fallback when it is empty.
func (r Result) ErrorText(fallback string) string {
	if r.Stderr != "" {
		return r.Stderr
	}
	return fallback
}

// Runner runs external programs. It allows mocking in tests.
type Runner interface {
	// Run executes name with args in dir. It never returns an error: a
	// process that cannot be started yields a non-zero Code with the start
	// error as Stderr.
	Run(ctx context.Context, dir, name string, args ...string) Result

	// LookPath searches PATH for an executable.
	LookPath(file string) (string, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) Result {
	log := logging.NewLogger("runner")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Code = exitErr.ExitCode()
			if res.Code == 0 {
				res.Code = -1
			}
		} else {
			res.Code = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
	}

	log.WithField("dir", dir).WithField("code", res.Code).Debugf("exec %s", CommandLine(name, args...))
	return res
}

func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Git runs git with dir as the working directory.
func Git(ctx context.Context, r Runner, dir string, args ...string) Result {
	return r.Run(ctx, dir, "git", args...)
}

// CommandLine joins a command for display and mock lookup.
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
