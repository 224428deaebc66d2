package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for the digit server and trainer.
type Config struct {
	ModelPath       string        `yaml:"model_path"`
	ListenAddr      string        `yaml:"listen_addr"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	MaxWorkers      int           `yaml:"max_workers"`
	AutosaveEvery   int           `yaml:"autosave_every"`
	SaveOnExit      bool          `yaml:"save_on_exit"`
	Seed            uint64        `yaml:"seed"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	ModelPath       string
	ListenAddr      string
	DispatchTimeout time.Duration
	MaxWorkers      int
	AutosaveEvery   int
	Seed            uint64
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ModelPath:       "assets/models/default.bin",
		ListenAddr:      "127.0.0.1:3000",
		DispatchTimeout: 30 * time.Second,
	}
}

// Load reads YAML from path on top of Default. When optional is set a missing
// file yields the defaults.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.ModelPath != "" {
		c.ModelPath = o.ModelPath
	}
	if o.ListenAddr != "" {
		c.ListenAddr = o.ListenAddr
	}
	if o.DispatchTimeout > 0 {
		c.DispatchTimeout = o.DispatchTimeout
	}
	if o.MaxWorkers > 0 {
		c.MaxWorkers = o.MaxWorkers
	}
	if o.AutosaveEvery > 0 {
		c.AutosaveEvery = o.AutosaveEvery
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.ModelPath == "" {
		return errors.New("model_path must be set")
	}
	if c.ListenAddr == "" {
		return errors.New("listen_addr must be set")
	}
	if c.DispatchTimeout < 0 {
		return fmt.Errorf("dispatch_timeout must be >= 0 (got %s)", c.DispatchTimeout)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("max_workers must be >= 0 (got %d)", c.MaxWorkers)
	}
	if c.AutosaveEvery < 0 {
		return fmt.Errorf("autosave_every must be >= 0 (got %d)", c.AutosaveEvery)
	}
	return nil
}
