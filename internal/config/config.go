// Package config loads the demo CLI's on-disk settings: the download
// directory, a handful of transfer tuning knobs, and bookmarked servers.
// It follows the same config-path and YAML-decode conventions the original
// client used for its own settings file.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Bookmark names one saved server by a display name and its "host:port"
// address. It carries no transfer reference number.
type Bookmark struct {
	Name string `yaml:"Name"`
	Addr string `yaml:"Addr"`
}

// Config is the full set of settings the demo CLI reads at startup.
type Config struct {
	DownloadDir      string     `yaml:"DownloadDir"`
	ReceiveChunkSize int        `yaml:"ReceiveChunkSize"`
	UploadChunkSize  int        `yaml:"UploadChunkSize"`
	Bookmarks        []Bookmark `yaml:"Bookmarks"`
}

// defaults mirror the socket package's and upload client's own chunk-size
// fallbacks so a zero-value Config is still usable.
func defaults() Config {
	return Config{
		DownloadDir:      ".",
		ReceiveChunkSize: 64 * 1024,
		UploadChunkSize:  256 * 1024,
	}
}

// DefaultPath returns the platform-conventional config file location,
// preferring an existing file under a package-manager prefix before
// falling back to the current directory.
func DefaultPath() string {
	const name = "hlxfer-config.yaml"
	switch runtime.GOOS {
	case "darwin":
		if _, err := os.Stat("/usr/local/etc/" + name); err == nil {
			return "/usr/local/etc/" + name
		}
		if _, err := os.Stat("/opt/homebrew/etc/" + name); err == nil {
			return "/opt/homebrew/etc/" + name
		}
		return name
	case "linux":
		if _, err := os.Stat("/usr/local/etc/" + name); err == nil {
			return "/usr/local/etc/" + name
		}
		return name
	default:
		return name
	}
}

// Load reads and decodes path, layering its fields over Config's defaults.
// A missing file is not an error: the demo CLI runs with defaults and lets
// the user override them with flags.
func Load(path string) (Config, error) {
	cfg := defaults()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var loaded Config
	if err := yaml.NewDecoder(f).Decode(&loaded); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if loaded.DownloadDir != "" {
		cfg.DownloadDir = loaded.DownloadDir
	}
	if loaded.ReceiveChunkSize > 0 {
		cfg.ReceiveChunkSize = loaded.ReceiveChunkSize
	}
	if loaded.UploadChunkSize > 0 {
		cfg.UploadChunkSize = loaded.UploadChunkSize
	}
	if len(loaded.Bookmarks) > 0 {
		cfg.Bookmarks = loaded.Bookmarks
	}
	return cfg, nil
}
