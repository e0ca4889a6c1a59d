// Package logging hands out per-component logrus loggers. Stdout belongs
// to tool reports and the MCP protocol, so entries go to a daily log file
// and, optionally, to stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/badri/wtsession/internal/config"
)

var (
	mu      sync.Mutex
	base    *logrus.Logger
	loggers = make(map[string]*logrus.Entry)
)

// Setup configures the shared logger from cfg. It may be called again to
// reconfigure; component loggers created earlier keep working because they
// share the same underlying logger.
func Setup(cfg config.LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	logger := root()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	var writers []io.Writer
	colors := false
	if cfg.Dir != "" {
		dir := cfg.Dir
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating log directory %s: %w", dir, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("wt-%s.log", time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file %s: %w", path, err)
		}
		writers = append(writers, file)
	}
	if cfg.Stderr {
		writers = append(writers, os.Stderr)
		colors = len(writers) == 1 && isatty.IsTerminal(os.Stderr.Fd())
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   colors,
			DisableColors: !colors,
		})
	}
	return nil
}

// NewLogger returns the logger for a component, creating it on first use.
func NewLogger(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if entry, ok := loggers[component]; ok {
		return entry
	}
	entry := root().WithField("component", component)
	loggers[component] = entry
	return entry
}

// SetOutput redirects all component loggers, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	root().SetOutput(w)
}

func root() *logrus.Logger {
	if base == nil {
		base = logrus.New()
		// Until Setup runs nothing is written; stdout must stay clean.
		base.SetOutput(io.Discard)
	}
	return base
}
