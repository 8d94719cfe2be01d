package libpthread

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the broker's settings.
type Config struct {
	// Socket is the unix socket path the broker serves on.
	Socket string `yaml:"socket"`

	// MaxSemaphores bounds the number of live named semaphores. Zero
	// means unbounded; creations beyond the bound fail with ENOSPC.
	MaxSemaphores int `yaml:"max_semaphores"`

	// MaxWaits bounds the blocking waits one connection may park at a
	// time. Zero picks the default.
	MaxWaits int `yaml:"max_waits"`

	// Debug turns per-operation logging on.
	Debug bool `yaml:"debug"`
}

// DefaultSocketPath returns the per-user socket semd serves on when no
// configuration says otherwise. Pointing several users at one shared
// socket path yields a host-global namespace instead.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("semd-%d.sock", os.Getuid()))
}

// DefaultConfig returns the settings semd runs with out of the box.
func DefaultConfig() Config {
	return Config{
		Socket:        DefaultSocketPath(),
		MaxSemaphores: 4096,
		MaxWaits:      1024,
	}
}

// LoadConfig reads a YAML config file. Keys left out keep their defaults;
// an empty file is a valid configuration.
func LoadConfig(file string) (Config, error) {
	cfg := DefaultConfig()

	fd, err := os.Open(file)
	if err != nil {
		return cfg, err
	}
	defer fd.Close()

	if err := yaml.NewDecoder(fd).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing %s: %w", file, err)
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocketPath()
	}
	return cfg, nil
}
