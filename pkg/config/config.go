// Package config loads the daemon configuration from a TOML file. Every
// setting has a default matching the conventional iokernel geometry, so an
// absent or partial file still yields a runnable configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/vmsearch/shenango/pkg/mempool"
)

var errInvalid = errors.New("config: invalid configuration")

// Pool configures the shared packet-buffer pool.
type Pool struct {
	Name      string `toml:"name"`
	Count     int    `toml:"count"`
	CacheSize int    `toml:"cache_size"`
	PrivSize  int    `toml:"priv_size"`
	DataRoom  int    `toml:"data_room"`
	Node      int    `toml:"numa_node"`
}

// Control configures the control-plane channel pair.
type Control struct {
	QueueSize int `toml:"queue_size"`
}

// Config is the full daemon configuration.
type Config struct {
	Interface   string  `toml:"interface"`
	MetricsAddr string  `toml:"metrics_addr"`
	Pool        Pool    `toml:"pool"`
	Control     Control `toml:"control"`
}

// Default returns the standard configuration: one port, an 8191-buffer
// pool with a 250-entry allocation cache, and 1024-slot control channels.
func Default() Config {
	return Config{
		Interface:   "eth0",
		MetricsAddr: "127.0.0.1:9477",
		Pool: Pool{
			Name:      "iokernel_ingress",
			Count:     8191,
			CacheSize: 250,
			PrivSize:  0,
			DataRoom:  mempool.DefaultDataRoom,
			Node:      0,
		},
		Control: Control{QueueSize: 1024},
	}
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed or invalid one is.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("%w: interface must be set", errInvalid)
	}
	if c.Pool.Name == "" {
		return fmt.Errorf("%w: pool name must be set", errInvalid)
	}
	if c.Pool.Count <= 0 {
		return fmt.Errorf("%w: pool count %d", errInvalid, c.Pool.Count)
	}
	if n := c.Control.QueueSize; n <= 0 || n&(n-1) != 0 {
		return fmt.Errorf("%w: control queue size %d must be a power of two", errInvalid, n)
	}
	return nil
}
