package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/badri/wtsession/internal/config"
	"github.com/badri/wtsession/internal/hostsession"
	"github.com/badri/wtsession/internal/launcher"
	"github.com/badri/wtsession/internal/logging"
	"github.com/badri/wtsession/internal/pathutil"
	"github.com/badri/wtsession/internal/reconcile"
	"github.com/badri/wtsession/internal/runner"
	"github.com/badri/wtsession/internal/tmux"
	"github.com/badri/wtsession/internal/tools"
)

// EnvSessionID names the calling host session when --session is not given.
const EnvSessionID = "WT_SESSION_ID"

var (
	sessionFlag  string
	dirFlag      string
	logLevelFlag string
	version      = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "wt",
	Short: "Git worktrees paired with forked opencode sessions",
	Long: `wt creates a git worktree per unit of work and pairs it with a session
forked from the current one. Mappings are tracked per repository so a
worktree can be listed, resumed and finished later, even after its session
or directory went away.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", os.Getenv(EnvSessionID), "calling session ID (default $"+EnvSessionID+")")
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "C", "", "run as if started in this directory")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override the configured log level")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if err != errReportFailed {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app holds the wiring shared by all commands.
type app struct {
	cfg  *config.Config
	run  runner.Runner
	host *hostsession.HTTPClient
	tmux *tmux.Client
	svc  *tools.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}

	logCfg := cfg.Log
	logCfg.Dir = cfg.LogDir()
	if err := logging.Setup(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	r := runner.ExecRunner{}
	host := hostsession.NewHTTPClient(cfg.Host.URL, cfg.Host.Timeout)
	tm := tmux.New(r)
	return &app{
		cfg:  cfg,
		run:  r,
		host: host,
		tmux: tm,
		svc:  tools.New(cfg, r, host, launcher.New(cfg, r, tm)),
	}, nil
}

func invocation() (reconcile.Invocation, error) {
	dir := dirFlag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return reconcile.Invocation{}, fmt.Errorf("getting working directory: %w", err)
		}
		dir = wd
	}
	return reconcile.Invocation{
		SessionID: sessionFlag,
		Directory: pathutil.Normalize(dir),
	}, nil
}
