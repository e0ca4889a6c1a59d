package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/badri/wtsession/internal/config"
	"github.com/badri/wtsession/internal/doctor"
	"github.com/badri/wtsession/internal/mcp"
	"github.com/badri/wtsession/internal/notify"
)

// notifyRetry is how long the notifier waits before reconnecting to the
// host's event stream.
const notifyRetry = 5 * time.Second

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the wt configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return showConfig(cfg)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return showConfig(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return initConfig(cfg)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		fmt.Printf("Set %s = %s\n", args[0], args[1])
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:     "edit",
	Aliases: []string{"editor"},
	Short:   "Open the configuration file in $EDITOR",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return configEditor(cfg)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the worktree tools over MCP on stdio",
	Long: `Serve wt_create, wt_list, wt_resume and wt_finish over the Model
Context Protocol on stdin/stdout. The calling session is taken from
--session unless a tool call passes its own session_id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		inv, err := invocation()
		if err != nil {
			return err
		}
		return mcp.NewServer(a.svc, inv).Serve(cmd.Context(), os.Stdin, os.Stdout)
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Play a sound when a main session goes idle",
	Long: `Listen to the host's session events and play a sound when a main
session stays idle for the configured delay, or right away when a
permission prompt appears. Child sessions are ignored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		return runNotify(cmd.Context(), a)
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check dependencies and tracked worktrees for problems",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		inv, err := invocation()
		if err != nil {
			return err
		}
		d := doctor.New(a.cfg, a.run, a.host, a.tmux, a.svc)
		return doctor.Render(os.Stdout, d.Checks(cmd.Context(), inv))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd, configSetCmd, configEditCmd)
	rootCmd.AddCommand(configCmd, mcpCmd, notifyCmd, doctorCmd)
}

func runNotify(ctx context.Context, a *app) error {
	player := notify.NewSoundPlayer(a.run, a.cfg.SoundPath())
	state := notify.NewState(a.host, player, a.cfg.Notify.IdleDelay)
	fmt.Fprintf(os.Stderr, "wt notify: listening on %s (sound via %s)\n", a.cfg.Host.URL, player.Method())
	return notify.Run(ctx, a.host, state, notifyRetry)
}

func showConfig(cfg *config.Config) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n", cfg.ConfigPath())
	if !cfg.ConfigExists() {
		fmt.Println("# file not found, showing defaults; run 'wt config init' to create it")
	}
	fmt.Print(string(data))
	return nil
}

func initConfig(cfg *config.Config) error {
	if cfg.ConfigExists() {
		return fmt.Errorf("config file already exists at %s\nUse 'wt config edit' to modify", cfg.ConfigPath())
	}
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("creating config: %w", err)
	}
	fmt.Printf("Created config file: %s\n", cfg.ConfigPath())
	fmt.Println("\nEdit with: wt config edit")
	return nil
}

var configSetters = map[string]func(cfg *config.Config, value string) error{
	"worktree_root": func(cfg *config.Config, v string) error {
		cfg.WorktreeRoot = v
		return nil
	},
	"store_dir": func(cfg *config.Config, v string) error {
		cfg.StoreDir = v
		return nil
	},
	"session_command": func(cfg *config.Config, v string) error {
		cfg.SessionCommand = v
		return nil
	},
	"base_branches": func(cfg *config.Config, v string) error {
		cfg.BaseBranches = splitList(v)
		return nil
	},
	"link_dirs": func(cfg *config.Config, v string) error {
		cfg.LinkDirs = splitList(v)
		return nil
	},
	"host.url": func(cfg *config.Config, v string) error {
		cfg.Host.URL = v
		return nil
	},
	"host.timeout": func(cfg *config.Config, v string) error {
		return setDuration(&cfg.Host.Timeout, v)
	},
	"launch.terminal": func(cfg *config.Config, v string) error {
		cfg.Launch.Terminal = v
		return nil
	},
	"launch.window_prefix": func(cfg *config.Config, v string) error {
		cfg.Launch.WindowPrefix = v
		return nil
	},
	"launch.window_max": func(cfg *config.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid number: %s", v)
		}
		cfg.Launch.WindowMax = n
		return nil
	},
	"notify.sound": func(cfg *config.Config, v string) error {
		cfg.Notify.Sound = v
		return nil
	},
	"notify.idle_delay": func(cfg *config.Config, v string) error {
		return setDuration(&cfg.Notify.IdleDelay, v)
	},
	"log.level": func(cfg *config.Config, v string) error {
		cfg.Log.Level = v
		return nil
	},
	"log.dir": func(cfg *config.Config, v string) error {
		cfg.Log.Dir = v
		return nil
	},
}

// setConfigValue applies one key=value change and validates the result.
func setConfigValue(cfg *config.Config, key, value string) error {
	set, ok := configSetters[key]
	if !ok {
		valid := make([]string, 0, len(configSetters))
		for k := range configSetters {
			valid = append(valid, k)
		}
		sort.Strings(valid)
		return fmt.Errorf("unknown config key: %s\nValid keys: %s", key, strings.Join(valid, ", "))
	}
	if err := set(cfg, value); err != nil {
		return err
	}
	return cfg.Validate()
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration: %s", v)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func configEditor(cfg *config.Config) error {
	if !cfg.ConfigExists() {
		if err := cfg.Save(); err != nil {
			return err
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		editor = "vi"
	}

	cmd := exec.Command(editor, cfg.ConfigPath())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
