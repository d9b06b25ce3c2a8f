// Package wcconfig loads the small set of working-copy-wide settings the
// editor and its stores need at startup: where the admin area lives, how
// big the pristine cache is allowed to grow, and whether newly installed
// files get their commit time as mtime.
package wcconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	// AdminDirName is the directory name used for the working copy's
	// administrative area, analogous to ".svn".
	AdminDirName string `json:"admin_dir_name"`

	Pristine struct {
		// Path is where content-addressed pristine blobs are stored.
		Path string `json:"path"`
		// CacheSize is the number of decompressed blobs kept in the
		// in-memory LRU cache.
		CacheSize int `json:"cache_size"`
		// CompressionThreshold is the minimum blob size, in bytes, below
		// which zstd compression is skipped.
		CompressionThreshold int `json:"compression_threshold"`
	} `json:"pristine"`

	Entries struct {
		Path string `json:"path"`
	} `json:"entries"`

	// UseCommitTimes is copied onto every EditContext built from the
	// working copy: if true, installed files get their last-commit time
	// as mtime instead of the time of installation.
	UseCommitTimes bool `json:"use_commit_times"`

	LogLevel string `json:"log_level"`
}

func Default() *Config {
	c := &Config{
		AdminDirName:   ".wc",
		UseCommitTimes: false,
		LogLevel:       "info",
	}
	c.Pristine.CacheSize = 256
	c.Pristine.CompressionThreshold = 256
	return c
}

func getConfigPath() string {
	env := os.Getenv("WCEDIT_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads a Config from path, falling back to getConfigPath's
// environment-derived default when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = getConfigPath()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}
