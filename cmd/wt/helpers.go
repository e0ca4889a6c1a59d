package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/badri/wtsession/internal/tools"
)

var (
	headerOK   = color.New(color.FgGreen, color.Bold)
	headerFail = color.New(color.FgRed, color.Bold)
	keyColor   = color.New(color.FgCyan)
)

// printReport writes a tool report, coloring the header and keys when the
// output is a terminal. It returns errReportFailed for error reports so the
// process exit status reflects them.
func printReport(w io.Writer, r *tools.Report) error {
	for i, line := range r.Lines() {
		switch {
		case i == 0 && r.Failed():
			headerFail.Fprintln(w, line)
		case i == 0:
			headerOK.Fprintln(w, line)
		default:
			fmt.Fprintln(w, colorKey(line))
		}
	}
	if r.Failed() {
		return errReportFailed
	}
	return nil
}

// errReportFailed is returned after an error report has been printed.
var errReportFailed = silentError("report failed")

type silentError string

func (e silentError) Error() string { return string(e) }

func colorKey(line string) string {
	idx := strings.Index(line, ": ")
	if idx <= 0 || strings.HasPrefix(line, "- ") {
		return line
	}
	return keyColor.Sprint(line[:idx]) + line[idx:]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
