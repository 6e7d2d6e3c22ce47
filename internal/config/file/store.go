// Package file provides a YAML-on-disk config.Store, the on-disk ingester
// manifest format named in spec.md §6, grounded on the teacher's own
// file-backed config store idiom (load-whole-file, flush-whole-file; no
// partial/streaming writes).
package file

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"fluxgate/internal/config"
)

// Store is a config.Store backed by a single YAML file at Path.
type Store struct {
	Path string
}

// New returns a Store reading from and writing to path.
func New(path string) *Store {
	return &Store{Path: path}
}

// Load reads and parses the YAML file. A missing file is not an error: it
// returns (nil, nil), matching the "no config exists yet" contract.
func (s *Store) Load(_ context.Context) (*config.Config, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save serializes cfg to YAML and writes it to Path, replacing any
// existing file in one write (no partial-write recovery is attempted —
// config load is explicitly not on the hot path).
func (s *Store) Save(_ context.Context, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(s.Path, data, 0o644)
}
