package tmux

import "context"

// Runner defines the interface for tmux operations.
// This allows mocking in tests.
type Runner interface {
	// InSession reports whether this process runs inside a tmux client and
	// the tmux binary is available.
	InSession() bool
	NewWindow(ctx context.Context, name, workdir, command string) error
	ListWindows(ctx context.Context) ([]string, error)
	SelectWindow(ctx context.Context, name string) error
}

var (
	_ Runner = (*Client)(nil)
	_ Runner = (*MockRunner)(nil)
)
