// Package config provides configuration loading and defaults for the
// backup, restore and sync engines.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultRetentionCount is the number of archives kept per vendor when
	// the configuration does not specify one.
	DefaultRetentionCount = 10

	appDirName     = "confkeeper"
	configFileName = "config.yaml"
)

// SyncPolicy enumerates the paths within a vendor's configuration tree that
// are eligible for synchronization against a remote repository. Anything not
// listed here is never touched by the sync engine.
type SyncPolicy struct {
	// Directories are top-level directories synced recursively.
	Directories []string `yaml:"directories"`

	// Files are individual top-level files synced by content.
	Files []string `yaml:"files"`
}

// Vendor describes one managed configuration tree.
type Vendor struct {
	// ID is the vendor identifier, used for backup directories and archive
	// top-level directory names.
	ID string `yaml:"id"`

	// ConfigDir is the live configuration directory. A leading "~" is
	// expanded to the user's home directory at load time.
	ConfigDir string `yaml:"configDir"`

	// Sync holds the paths eligible for synchronization.
	Sync SyncPolicy `yaml:"sync"`
}

// Config is the root configuration structure.
type Config struct {
	// BackupRoot is the directory holding per-vendor backup directories.
	BackupRoot string `yaml:"backupRoot"`

	// RetentionCount is the number of archives kept per vendor.
	RetentionCount int `yaml:"retentionCount"`

	// Vendors lists the managed configuration trees.
	Vendors []Vendor `yaml:"vendors"`
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appDirName, configFileName)
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		BackupRoot:     filepath.Join(xdg.DataHome, appDirName, "backups"),
		RetentionCount: DefaultRetentionCount,
		Vendors: []Vendor{
			{
				ID:        "claude",
				ConfigDir: filepath.Join(home, ".claude"),
				Sync: SyncPolicy{
					Directories: []string{"agents", "skills"},
					Files:       []string{"settings.json"},
				},
			},
			{
				ID:        "codex",
				ConfigDir: filepath.Join(home, ".codex"),
				Sync: SyncPolicy{
					Directories: []string{"prompts"},
					Files:       []string{"config.toml"},
				},
			},
			{
				ID:        "gemini",
				ConfigDir: filepath.Join(home, ".gemini"),
				Sync: SyncPolicy{
					Directories: []string{"commands"},
					Files:       []string{"settings.json"},
				},
			},
		},
	}
}

// Load reads the configuration from path, falling back to DefaultPath when
// path is empty and to Default() when no file exists at all.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.BackupRoot == "" {
		c.BackupRoot = def.BackupRoot
	}
	c.BackupRoot = expandHome(c.BackupRoot)
	if c.RetentionCount <= 0 {
		c.RetentionCount = DefaultRetentionCount
	}
	if len(c.Vendors) == 0 {
		c.Vendors = def.Vendors
	}
	for i := range c.Vendors {
		c.Vendors[i].ConfigDir = expandHome(c.Vendors[i].ConfigDir)
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Vendors))
	for _, v := range c.Vendors {
		if v.ID == "" {
			return fmt.Errorf("vendor id cannot be empty")
		}
		if strings.ContainsAny(v.ID, `/\`) {
			return fmt.Errorf("vendor id %q must not contain path separators", v.ID)
		}
		if v.ConfigDir == "" {
			return fmt.Errorf("vendor %q has no configDir", v.ID)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("duplicate vendor id %q", v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	return nil
}

// Vendor returns the configuration for vendorID, if present.
func (c *Config) Vendor(vendorID string) (*Vendor, bool) {
	for i := range c.Vendors {
		if c.Vendors[i].ID == vendorID {
			return &c.Vendors[i], true
		}
	}
	return nil, false
}

// VendorIDs returns the configured vendor ids in declaration order.
func (c *Config) VendorIDs() []string {
	ids := make([]string, 0, len(c.Vendors))
	for _, v := range c.Vendors {
		ids = append(ids, v.ID)
	}
	return ids
}

// Policies returns the sync policy table keyed by vendor id.
func (c *Config) Policies() map[string]SyncPolicy {
	policies := make(map[string]SyncPolicy, len(c.Vendors))
	for _, v := range c.Vendors {
		policies[v.ID] = v.Sync
	}
	return policies
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	return p
}
