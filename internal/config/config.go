package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/badri/wtsession/internal/pathutil"
)

const fileName = "config.yaml"

type Config struct {
	WorktreeRoot   string       `yaml:"worktree_root"`
	StoreDir       string       `yaml:"store_dir"`
	BaseBranches   []string     `yaml:"base_branches"`
	SessionCommand string       `yaml:"session_command"`
	LinkDirs       []string     `yaml:"link_dirs,omitempty"`
	Host           HostConfig   `yaml:"host"`
	Launch         LaunchConfig `yaml:"launch"`
	Notify         NotifyConfig `yaml:"notify"`
	Log            LogConfig    `yaml:"log"`

	// Internal paths
	configDir string
}

// HostConfig points at the host's session server.
type HostConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LaunchConfig controls how terminals are opened for a worktree session.
type LaunchConfig struct {
	WindowPrefix string `yaml:"window_prefix"`
	WindowMax    int    `yaml:"window_max"`
	Terminal     string `yaml:"terminal"`
	MacApp       string `yaml:"mac_app"`
}

// NotifyConfig controls the notification companion.
type NotifyConfig struct {
	Sound     string        `yaml:"sound"`
	IdleDelay time.Duration `yaml:"idle_delay"`
}

// LogConfig controls the component loggers.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
	Stderr bool   `yaml:"stderr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		WorktreeRoot:   "~/.local/share/opencode/worktree",
		StoreDir:       "~/.local/share/opencode/plugins/worktree-session",
		BaseBranches:   []string{"origin/main", "origin/master", "main", "master", "trunk"},
		SessionCommand: "opencode",
		Host: HostConfig{
			URL:     "http://127.0.0.1:4096",
			Timeout: 10 * time.Second,
		},
		Launch: LaunchConfig{
			WindowPrefix: "wt-",
			WindowMax:    28,
			Terminal:     "ghostty",
			MacApp:       "Ghostty.app",
		},
		Notify: NotifyConfig{
			Sound:     "~/.config/opencode/sounds/gow_active_reload.mp3",
			IdleDelay: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Dir:    "~/.local/share/wt/logs",
		},
	}
}

func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFromDir(configDir)
}

func LoadFromDir(configDir string) (*Config, error) {
	cfg := Default()
	cfg.configDir = configDir

	data, err := os.ReadFile(filepath.Join(configDir, fileName))
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", fileName, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("WT_HOST_URL"); v != "" {
		c.Host.URL = v
	}
	if v := os.Getenv("WT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects values the tools cannot work with.
func (c *Config) Validate() error {
	if c.SessionCommand == "" {
		return fmt.Errorf("invalid configuration: session_command must not be empty")
	}
	if c.Launch.WindowMax <= 0 {
		return fmt.Errorf("invalid configuration: launch.window_max must be positive")
	}
	if c.Host.Timeout < 0 || c.Notify.IdleDelay < 0 {
		return fmt.Errorf("invalid configuration: durations must not be negative")
	}
	return nil
}

func (c *Config) ConfigDir() string {
	return c.configDir
}

func (c *Config) ConfigPath() string {
	return filepath.Join(c.configDir, fileName)
}

// StorePath is the mapping database file of one project scope.
func (c *Config) StorePath(scope string) string {
	return filepath.Join(pathutil.Normalize(c.StoreDir), scope+".sqlite")
}

func (c *Config) SoundPath() string {
	return pathutil.Normalize(c.Notify.Sound)
}

func (c *Config) LogDir() string {
	return pathutil.Normalize(c.Log.Dir)
}

// Save writes the config to disk
func (c *Config) Save() error {
	if err := os.MkdirAll(c.configDir, 0755); err != nil {
		return err
	}
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(c.ConfigPath(), data, 0644)
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ConfigExists returns true if config.yaml exists
func (c *Config) ConfigExists() bool {
	_, err := os.Stat(c.ConfigPath())
	return err == nil
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("WT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "wt"), nil
}
