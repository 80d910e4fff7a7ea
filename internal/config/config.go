package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/guseggert/extscript/internal/files"
	"gopkg.in/yaml.v3"
)

// FileNames are the config files looked up from the working directory when none is given, in order.
var FileNames = []string{"extscript.yaml", "extscript.toml"}

// Config configures the demo host.
type Config struct {
	// Image is the path handed to runners asking for VMLINUXPATH.
	Image  string `yaml:"image" toml:"image"`
	Script Script `yaml:"script" toml:"script"`

	Socket       string        `yaml:"socket" toml:"socket"`
	Capture      string        `yaml:"capture" toml:"capture"`
	StartupDelay time.Duration `yaml:"startupDelay" toml:"startup_delay"`
	Retries      int           `yaml:"retries" toml:"retries"`
	RetryPause   time.Duration `yaml:"retryPause" toml:"retry_pause"`
	// RedirectStdout also captures what delegated commands write to the process stdout.
	RedirectStdout bool `yaml:"redirectStdout" toml:"redirect_stdout"`

	// Listen is the console address; empty disables the console.
	Listen   string `yaml:"listen" toml:"listen"`
	LogLevel string `yaml:"logLevel" toml:"log_level"`

	// Commands are host command lines run at startup, e.g. "extscript -b status".
	Commands []string `yaml:"commands" toml:"commands"`
}

type Script struct {
	File string   `yaml:"file" toml:"file"`
	Args []string `yaml:"args" toml:"args"`
}

// Load reads a config file. Files ending in .toml are TOML, anything else is YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if filepath.Ext(path) == ".toml" {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// Find looks for one of FileNames in dir and its parents and loads the nearest one.
// It returns an empty config if there is none.
func Find(dir string) (*Config, string, error) {
	path := files.FindUp(dir, FileNames...)
	if path == "" {
		return &Config{}, "", nil
	}
	cfg, err := Load(path)
	return cfg, path, err
}
