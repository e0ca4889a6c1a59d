// Package launcher opens a terminal attached to a worktree's session. Every
// attempt, successful or not, carries a shell command the user can run by
// hand instead.
package launcher

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/badri/wtsession/internal/config"
	"github.com/badri/wtsession/internal/logging"
	"github.com/badri/wtsession/internal/runner"
	"github.com/badri/wtsession/internal/tmux"
)

// Launch methods reported for tmux.
const (
	MethodTmux         = "tmux"
	MethodTmuxExisting = "tmux, existing window"
)

// Result is the outcome of one launch.
type Result struct {
	Opened          bool
	Method          string
	Error           string
	FallbackCommand string
}

type capabilities struct {
	tmux     bool
	terminal bool
}

// Launcher opens sessions in tmux or a terminal emulator.
type Launcher struct {
	cfg            config.LaunchConfig
	sessionCommand string
	run            runner.Runner
	tmux           tmux.Runner
	goos           string

	detectOnce sync.Once
	caps       capabilities
	log        *logrus.Entry
}

// New creates a Launcher. Terminal capabilities are detected on first use and
// then reused for the life of the Launcher.
func New(cfg *config.Config, r runner.Runner, t tmux.Runner) *Launcher {
	return &Launcher{
		cfg:            cfg.Launch,
		sessionCommand: cfg.SessionCommand,
		run:            r,
		tmux:           t,
		goos:           runtime.GOOS,
		log:            logging.NewLogger("launcher"),
	}
}

// WithGOOS overrides the platform, for tests.
func (l *Launcher) WithGOOS(goos string) *Launcher {
	l.goos = goos
	return l
}

func (l *Launcher) detect() capabilities {
	l.detectOnce.Do(func() {
		l.caps.tmux = l.tmux != nil && l.tmux.InSession()
		_, err := l.run.LookPath(l.cfg.Terminal)
		l.caps.terminal = err == nil
		l.log.WithField("tmux", l.caps.tmux).WithField("terminal", l.caps.terminal).Debug("terminal capabilities detected")
	})
	return l.caps
}

// ResumeArgs is the command that attaches to sessionID, split into argv.
func (l *Launcher) ResumeArgs(sessionID string) []string {
	return append(strings.Fields(l.sessionCommand), "--session", sessionID)
}

// FallbackCommand is the shell command that resumes sessionID in path.
func (l *Launcher) FallbackCommand(path, sessionID string) string {
	return fmt.Sprintf("cd %s && %s", ShellQuote(path), strings.Join(l.ResumeArgs(sessionID), " "))
}

// Open tries tmux when running inside it, then the terminal emulator. A
// failed launch is reported in the Result, never returned as an error.
func (l *Launcher) Open(ctx context.Context, path, sessionID, slug string) Result {
	caps := l.detect()
	fallback := l.FallbackCommand(path, sessionID)
	log := l.log.WithField("path", path).WithField("session", sessionID)

	if caps.tmux {
		name := tmux.WindowName(l.cfg.WindowPrefix, slug, l.cfg.WindowMax)
		err := l.tmux.NewWindow(ctx, name, path, strings.Join(l.ResumeArgs(sessionID), " "))
		if err == nil {
			log.WithField("window", name).Debug("opened tmux window")
			return Result{Opened: true, Method: MethodTmux, FallbackCommand: fallback}
		}
		log.WithError(err).Debug("tmux launch failed")
	}

	res := l.openTerminal(ctx, path, sessionID, caps)
	res.FallbackCommand = fallback
	return res
}

// Reopen selects the tmux window already open for slug and falls back to
// Open when there is none. Callers use it only when sessionID is the
// session that window was started with.
func (l *Launcher) Reopen(ctx context.Context, path, sessionID, slug string) Result {
	if l.detect().tmux {
		name := tmux.WindowName(l.cfg.WindowPrefix, slug, l.cfg.WindowMax)
		log := l.log.WithField("window", name)
		windows, err := l.tmux.ListWindows(ctx)
		if err != nil {
			log.WithError(err).Debug("tmux window list failed")
		} else if slices.Contains(windows, name) {
			err := l.tmux.SelectWindow(ctx, name)
			if err == nil {
				log.Debug("selected existing tmux window")
				return Result{Opened: true, Method: MethodTmuxExisting, FallbackCommand: l.FallbackCommand(path, sessionID)}
			}
			log.WithError(err).Debug("tmux select failed")
		}
	}
	return l.Open(ctx, path, sessionID, slug)
}

func (l *Launcher) openTerminal(ctx context.Context, path, sessionID string, caps capabilities) Result {
	log := l.log.WithField("terminal", l.cfg.Terminal)
	execArgs := append([]string{"-e"}, l.ResumeArgs(sessionID)...)

	if l.goos == "darwin" && l.cfg.MacApp != "" {
		args := append([]string{"-na", l.cfg.MacApp, "--args", "--working-directory=" + path}, execArgs...)
		if res := l.run.Run(ctx, path, "open", args...); res.OK() {
			log.Debug("opened terminal application")
			return Result{Opened: true, Method: l.cfg.Terminal}
		}
		log.Debug("open -na failed, trying terminal CLI")
	}

	if !caps.terminal {
		return Result{Error: fmt.Sprintf("%s is not available on PATH.", displayName(l.cfg.Terminal))}
	}

	args := append([]string{"--working-directory", path}, execArgs...)
	res := l.run.Run(ctx, path, l.cfg.Terminal, args...)
	if res.OK() {
		log.Debug("opened terminal")
		return Result{Opened: true, Method: l.cfg.Terminal}
	}
	return Result{Error: res.ErrorText(fmt.Sprintf("Failed to open %s.", displayName(l.cfg.Terminal)))}
}

// ShellQuote wraps value in single quotes for POSIX shells.
func ShellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func displayName(terminal string) string {
	if terminal == "" {
		return "Terminal"
	}
	return strings.ToUpper(terminal[:1]) + terminal[1:]
}
