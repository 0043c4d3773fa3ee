// Package config loads the YAML configuration consumed by the server and
// CLI binaries, using gopkg.in/yaml.v3 rather than hand-rolling a parser.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of a pagecache deployment: its geometry and
// which block device backs it.
type Config struct {
	Cache  CacheConfig  `yaml:"cache"`
	Device DeviceConfig `yaml:"device"`
	Server ServerConfig `yaml:"server"`
}

// CacheConfig mirrors pagecache.Config.
type CacheConfig struct {
	Length    uint64 `yaml:"length"`
	PageSize  uint32 `yaml:"page_size"`
	BlockSize uint32 `yaml:"block_size"`
	MaxPages  int    `yaml:"max_pages"`
}

// DeviceConfig selects and parameterizes one of the blockdev backends.
type DeviceConfig struct {
	// Kind is one of "mem", "file", "sqlite".
	Kind string `yaml:"kind"`
	// Path is the file path (for "file") or DSN (for "sqlite"); ignored
	// for "mem".
	Path string `yaml:"path"`
}

// ServerConfig configures cmd/pagecached's listeners and maintenance
// schedule.
type ServerConfig struct {
	HTTPAddr        string `yaml:"http_addr"`
	GRPCAddr        string `yaml:"grpc_addr"`
	MaintenanceCron string `yaml:"maintenance_cron"`
}

// Default returns a Config suitable for local experimentation: a small
// in-memory device and conservative page/block sizes.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Length:    64 << 20,
			PageSize:  4096,
			BlockSize: 512,
			MaxPages:  4096,
		},
		Device: DeviceConfig{Kind: "mem"},
		Server: ServerConfig{
			HTTPAddr:        ":8090",
			GRPCAddr:        ":9190",
			MaintenanceCron: "0 */5 * * * *",
		},
	}
}

// Load reads and parses a YAML config file at path. Fields the file does
// not set keep their Default values; a field the file sets, even to zero,
// takes the file's value.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
