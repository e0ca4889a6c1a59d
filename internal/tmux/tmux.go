// Package tmux opens and inspects windows in the tmux server the current
// process is attached to.
package tmux

import (
	"context"
	"os"
	"strings"

	wterrors "github.com/badri/wtsession/internal/errors"
	"github.com/badri/wtsession/internal/runner"
)

// EnvMarker is set by tmux in every pane it spawns.
const EnvMarker = "TMUX"

// Client implements Runner on top of the tmux CLI.
type Client struct {
	run    runner.Runner
	getenv func(string) string
}

// New creates a Client executing tmux through r.
func New(r runner.Runner) *Client {
	return &Client{run: r, getenv: os.Getenv}
}

// WithEnv replaces the environment lookup, for tests.
func (c *Client) WithEnv(getenv func(string) string) *Client {
	c.getenv = getenv
	return c
}

func (c *Client) InSession() bool {
	if c.getenv(EnvMarker) == "" {
		return false
	}
	_, err := c.run.LookPath("tmux")
	return err == nil
}

// NewWindow opens a window named name in the current session, running
// command as the pane process so nothing has to be typed into a shell.
func (c *Client) NewWindow(ctx context.Context, name, workdir, command string) error {
	res := c.run.Run(ctx, workdir, "tmux", "new-window", "-n", name, "-c", workdir, command)
	if !res.OK() {
		return wterrors.CommandFailed(res.Stderr, "Failed to open tmux window.")
	}
	return nil
}

// ListWindows returns the window names of the current session.
func (c *Client) ListWindows(ctx context.Context) ([]string, error) {
	res := c.run.Run(ctx, "", "tmux", "list-windows", "-F", "#{window_name}")
	if !res.OK() {
		return nil, wterrors.CommandFailed(res.Stderr, "listing tmux windows")
	}

	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// SelectWindow makes the named window current.
func (c *Client) SelectWindow(ctx context.Context, name string) error {
	res := c.run.Run(ctx, "", "tmux", "select-window", "-t", name)
	if !res.OK() {
		return wterrors.CommandFailed(res.Stderr, "selecting tmux window")
	}
	return nil
}

// WindowName builds a window name from prefix and slug, cut to max bytes.
func WindowName(prefix, slug string, max int) string {
	name := prefix + slug
	if max > 0 && len(name) > max {
		name = name[:max]
	}
	return name
}
