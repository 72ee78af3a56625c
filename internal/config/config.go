// Package config implements the per-instance configuration file: platform
// path resolution (XDG-aware, mirroring the teacher's paths.go) plus
// TOML-shaped load/save of the `{"local_dir": ..., "provider": ...}`
// document described in spec.md §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// appName names the directory tree under each XDG base directory.
const appName = "fsync"

// ProviderKind tags which concrete storage provider a Config names.
type ProviderKind string

const (
	ProviderGoogleDrive ProviderKind = "GoogleDrive"
	ProviderLocalFs     ProviderKind = "LocalFs"
)

// Provider is the tagged union spec.md §6 describes as
// `{"GoogleDrive": {"root"?, "secret"?}, "LocalFs": <absolute-path>}`.
type Provider struct {
	Kind ProviderKind

	// GoogleDrive fields.
	Root   string `toml:"root"`
	Secret string `toml:"secret"`

	// LocalFs field: the second directory tree standing in for the cloud
	// side (see storage/localcloud).
	LocalFsPath string `toml:"local_fs_path"`
}

// Config is the single per-instance document at
// <config-dir>/fsync/<instance>/config.json (stored as TOML source, see
// SPEC_FULL.md §2 on config format continuity with the teacher).
type Config struct {
	LocalDir string   `toml:"local_dir"`
	Provider Provider `toml:"provider"`
}

// Load reads and decodes path into a Config. The file must already exist;
// a missing config is a fatal startup error (spec.md §7), not handled here.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}

	if cfg.LocalDir == "" {
		return nil, fmt.Errorf("config: %s: local_dir is required", path)
	}

	if cfg.Provider.Kind == "" {
		return nil, fmt.Errorf("config: %s: provider is required", path)
	}

	return &cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}

	return nil
}
