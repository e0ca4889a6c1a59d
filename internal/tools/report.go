package tools

import (
	"fmt"
	"strings"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/launcher"
)

// Header prefixes the first line of every report.
const Header = "[worktree]"

// Report is the multi-line text a tool call returns.
type Report struct {
	lines  []string
	failed bool
}

// NewReport starts a report whose first line is "[worktree] <title>".
func NewReport(title string) *Report {
	return &Report{lines: []string{Header + " " + title}}
}

func (r *Report) add(key, value string) *Report {
	r.lines = append(r.lines, fmt.Sprintf("%s: %s", key, value))
	return r
}

func (r *Report) raw(line string) *Report {
	r.lines = append(r.lines, line)
	return r
}

func (r *Report) launch(res launcher.Result) *Report {
	if res.Opened {
		method := res.Method
		if method == "" {
			method = "terminal"
		}
		return r.add("opened", fmt.Sprintf("yes (%s)", method))
	}
	r.add("opened", "no")
	if res.Error != "" {
		r.add("open_error", res.Error)
	}
	return r.add("run", res.FallbackCommand)
}

// Failed reports whether the tool call ended in an error.
func (r *Report) Failed() bool {
	return r.failed
}

// Lines returns the report lines.
func (r *Report) Lines() []string {
	return r.lines
}

func (r *Report) String() string {
	return strings.Join(r.lines, "\n")
}

// ErrorReport renders err as "[worktree] error: <message>" followed by one
// line per detail.
func ErrorReport(err error) *Report {
	msg := err.Error()
	var details []wterrors.Detail
	if e, ok := wterrors.As(err); ok {
		msg = e.Message
		if e.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, e.Cause)
		}
		details = e.Details
	}

	r := NewReport("error: " + msg)
	r.failed = true
	for _, d := range details {
		r.add(d.Key, d.Value)
	}
	return r
}
