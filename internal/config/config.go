// Package config parses the daemon's YAML configuration file into a
// structured document with a load-then-Validate shape.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level document.
type Config struct {
	DBDir           string           `yaml:"db_dir"`
	SampleFileDirs  []string         `yaml:"sample_file_dirs"`
	Cameras         []CameraConfig   `yaml:"cameras"`
	Server          ServerConfig     `yaml:"server"`
}

// ServerConfig configures the HTTP contract layer's listen address. The
// transport itself (routing, TLS, auth) is an external collaborator;
// this is only the address the daemon binds for its own handlers.
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
}

// CameraConfig groups up to two streams. UUID is the camera's stable database identity;
// unlike ShortName it must never change once recordings exist for the
// camera, so a config-file rename doesn't orphan its history.
type CameraConfig struct {
	UUID      string                  `yaml:"uuid"`
	ShortName string                  `yaml:"short_name"`
	Streams   map[string]StreamConfig `yaml:"streams"`
}

// StreamConfig is one stream's row-equivalent configuration.
type StreamConfig struct {
	RTSPURL     string `yaml:"rtsp_url"`
	RetainBytes int64  `yaml:"retain_bytes"`
	FlushIfSec  int64  `yaml:"flush_if_sec"`
	Record      bool   `yaml:"record"`
	// SampleFileDir indexes into Config.SampleFileDirs; defaults to 0.
	SampleFileDir int `yaml:"sample_file_dir"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DBDir == "" {
		return fmt.Errorf("config: missing db_dir")
	}
	if len(c.SampleFileDirs) == 0 {
		return fmt.Errorf("config: at least one sample_file_dirs entry is required")
	}
	for _, cam := range c.Cameras {
		if cam.ShortName == "" {
			return fmt.Errorf("config: camera missing short_name")
		}
		if cam.UUID == "" {
			return fmt.Errorf("config: camera %s missing uuid", cam.ShortName)
		}
		for name, s := range cam.Streams {
			if name != "main" && name != "sub" {
				return fmt.Errorf("config: camera %s: stream key must be main or sub, got %q", cam.ShortName, name)
			}
			if s.Record && s.RTSPURL == "" {
				return fmt.Errorf("config: camera %s stream %s: record enabled without rtsp_url", cam.ShortName, name)
			}
			if s.SampleFileDir < 0 || s.SampleFileDir >= len(c.SampleFileDirs) {
				return fmt.Errorf("config: camera %s stream %s: sample_file_dir index %d out of range", cam.ShortName, name, s.SampleFileDir)
			}
		}
	}
	if c.Server.BindAddress == "" {
		c.Server.BindAddress = "127.0.0.1:8080"
	}
	return nil
}
