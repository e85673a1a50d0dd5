// Package config loads server configuration from an optional YAML file,
// with CLI flags taking precedence over whatever the file specifies. The
// shape mirrors the teacher's own config handling: a struct with yaml
// tags, loaded with gopkg.in/yaml.v2.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Server is the on-disk configuration for nbd-server. Memory and AIO are
// convenience booleans equivalent to setting Backend directly ("memory" or
// "aio"); LoadServer resolves them into Backend so openBackend only ever
// has to look at one field.
type Server struct {
	Listen   string `yaml:"listen"`
	Export   string `yaml:"export"`
	File     string `yaml:"file"`
	SizeMB   int64  `yaml:"size_mb"`
	Memory   bool   `yaml:"memory"`
	AIO      bool   `yaml:"aio"`
	NoCreate bool   `yaml:"no_create"`
	Backend  string `yaml:"backend"`
	RBD      *RBD   `yaml:"rbd,omitempty"`
}

// RBD names the Ceph pool/image to export when Backend == "rbd".
type RBD struct {
	ConfigFile string `yaml:"config_file"`
	Pool       string `yaml:"pool"`
	Image      string `yaml:"image"`
}

// DefaultServer returns the configuration used when no file is supplied.
func DefaultServer() Server {
	return Server{
		Listen:  fmt.Sprintf("127.0.0.1:%d", 10809),
		Export:  "default",
		Backend: "file",
	}
}

// LoadServer reads and parses path, starting from DefaultServer and
// overlaying whatever path sets.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Memory {
		cfg.Backend = "memory"
	}
	if cfg.AIO {
		cfg.Backend = "aio"
	}
	return cfg, nil
}

// Client is the on-disk configuration for nbd-client.
type Client struct {
	Server  string `yaml:"server"`
	Export  string `yaml:"export"`
	Device  string `yaml:"device"`
	Timeout int    `yaml:"timeout_seconds"`
}

// DefaultClient returns the configuration used when no file is supplied.
func DefaultClient() Client {
	return Client{
		Export:  "default",
		Timeout: 10,
	}
}

// LoadClient reads and parses path, starting from DefaultClient.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
