package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// ConfigDir returns the XDG-aware base directory for fsync config files,
// mirroring the teacher's DefaultConfigDir: XDG_CONFIG_HOME on Linux,
// Application Support on macOS, ~/.config elsewhere.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDir(home, "XDG_CONFIG_HOME", ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// CacheDir returns the XDG-aware base directory for fsync cache files
// (token cache, entry cache sidecar).
func CacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDir(home, "XDG_CACHE_HOME", ".cache")
	case platformDarwin:
		return filepath.Join(home, "Library", "Caches", appName)
	default:
		return filepath.Join(home, ".cache", appName)
	}
}

// RuntimeDir returns the directory the RPC port-advertisement file lives
// under: XDG_RUNTIME_DIR when set, else the cache directory (a reasonable
// fallback on platforms without a runtime directory convention).
func RuntimeDir() string {
	if rd := os.Getenv("XDG_RUNTIME_DIR"); rd != "" {
		return filepath.Join(rd, appName)
	}

	return CacheDir()
}

func linuxDir(home, envVar, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// InstancePaths bundles the filesystem layout for a single instance per
// spec.md §6.
type InstancePaths struct {
	ConfigFile   string
	ClientSecret string
	TokenCache   string
	EntryCache   string
	PortFile     string
}

// ForInstance computes the full per-instance layout.
func ForInstance(instance string) InstancePaths {
	return InstancePaths{
		ConfigFile:   filepath.Join(ConfigDir(), instance, "config.json"),
		ClientSecret: filepath.Join(ConfigDir(), instance, "client_secret.json"),
		TokenCache:   filepath.Join(CacheDir(), instance, "token_cache.json"),
		EntryCache:   filepath.Join(CacheDir(), instance, "remote.bin"),
		PortFile:     filepath.Join(RuntimeDir(), instance+".port"),
	}
}
