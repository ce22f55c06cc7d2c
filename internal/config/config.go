// Package config decodes the declarative TOML edge list described in
// spec.md §6 into internal/topology.EdgeConfig values Build accepts.
//
// Grounded on dsmmcken-dh-cli's internal/config/config.go Load/Save pair
// (os.ReadFile + toml.Unmarshal to decode, toml.Marshal + os.WriteFile to
// persist); adapted to wrap errors with github.com/pkg/errors rather than
// fmt.Errorf, this codebase's ambient choice, and to round-trip through
// internal/topology's types instead of a flat CLI settings struct.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/topology"
)

// BufferConfig is the TOML shape of spec.md §6's per-edge buffer table.
type BufferConfig struct {
	Type            string `toml:"type"`
	MaxEvents       int    `toml:"max_events,omitempty"`
	MaxSize         int64  `toml:"max_size,omitempty"`
	MaxDataFileSize int64  `toml:"max_data_file_size,omitempty"`
	MaxRecordSize   int64  `toml:"max_record_size,omitempty"`
	WhenFull        string `toml:"when_full,omitempty"`
	Overflow        string `toml:"overflow,omitempty"`
	DataDir         string `toml:"data_dir,omitempty"`
	ID              string `toml:"id,omitempty"`
}

// EdgeConfig is the TOML shape of one entry in the top-level edges list.
type EdgeConfig struct {
	Name   string       `toml:"name"`
	Source string       `toml:"source"`
	Output string       `toml:"output"`
	Buffer BufferConfig `toml:"buffer"`
}

// Config is the root of a routerd configuration file.
type Config struct {
	Edges []EdgeConfig `toml:"edges"`
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %s", path)
	}
	return cfg, nil
}

// Save marshals cfg and writes it to path.
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "config: marshaling")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "config: writing %s", path)
	}
	return nil
}

// EdgeConfigs converts the decoded edge list into the form
// internal/topology.Build accepts.
func (c *Config) EdgeConfigs() []topology.EdgeConfig {
	out := make([]topology.EdgeConfig, len(c.Edges))
	for i, e := range c.Edges {
		out[i] = topology.EdgeConfig{
			Name:   e.Name,
			Source: e.Source,
			Output: e.Output,
			Buffer: topology.BufferSpec{
				Type:            topology.BufferType(e.Buffer.Type),
				MaxEvents:       e.Buffer.MaxEvents,
				MaxSize:         e.Buffer.MaxSize,
				MaxDataFileSize: e.Buffer.MaxDataFileSize,
				MaxRecordSize:   e.Buffer.MaxRecordSize,
				WhenFull:        topology.WhenFull(e.Buffer.WhenFull),
				Overflow:        e.Buffer.Overflow,
				DataDir:         e.Buffer.DataDir,
				ID:              e.Buffer.ID,
			},
		}
	}
	return out
}
