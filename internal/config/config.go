// Package config loads quarry configuration from config files,
// environment variables and CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/quarrylabs/quarry/pkg/core"
)

// Default configuration values.
const (
	DefaultStateFile    = ".quarry/state.db"
	DefaultDatabaseType = "duckdb"
	DefaultDatabasePath = ":memory:"
)

// maxUpwardSearchLevels limits how far up the directory tree to search
// for a config file.
const maxUpwardSearchLevels = 10

// Config holds all quarry configuration options.
type Config struct {
	Database  core.AdapterConfig `koanf:"database"`
	StatePath string             `koanf:"state_path"`
	Verbose   bool               `koanf:"verbose"`

	// ProjectRoot is the directory all relative paths are resolved
	// against. It is derived, never read from the config file.
	ProjectRoot string `koanf:"-"`

	// ConfigFile is the config file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}

// configExistsIn checks if a quarry config file exists in the directory.
func configExistsIn(dir string) bool {
	for _, name := range []string{"quarry.yaml", "quarry.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// findProjectRoot searches upward from startDir for a quarry config
// file. Returns startDir if none is found within maxUpwardSearchLevels.
func findProjectRoot(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return startDir
}

// findConfigFile locates the config file to load.
// Priority: explicit path > quarry.yaml > quarry.yml in the project root.
func findConfigFile(explicit, projectRoot string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"quarry.yaml", "quarry.yml"} {
		candidate := filepath.Join(projectRoot, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not
// absolute. Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"database.type": DefaultDatabaseType,
		"database.path": DefaultDatabasePath,
		"state_path":    DefaultStateFile,
		"verbose":       false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	projectRoot, _ := os.Getwd()
	if projectRoot == "" {
		projectRoot = "."
	}
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	} else {
		projectRoot = findProjectRoot(projectRoot)
	}

	configFileUsed := findConfigFile(cfgFile, projectRoot)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables (QUARRY_ prefix)
	// Transform: QUARRY_STATE_PATH -> state_path,
	// QUARRY_DATABASE__HOST -> database.host
	if err := k.Load(env.Provider("QUARRY_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "QUARRY_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")

			// The CLI uses short flag names; map them onto the
			// nested config keys they stand for.
			switch key {
			case "state":
				return "state_path", posflag.FlagVal(flags, f)
			case "database":
				return "database.path", posflag.FlagVal(flags, f)
			case "db_type":
				return "database.type", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectRoot = projectRoot
	cfg.ConfigFile = configFileUsed
	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	if cfg.Database.Path != "" && cfg.Database.Path != ":memory:" {
		cfg.Database.Path = resolvePathRelativeTo(cfg.Database.Path, projectRoot)
	}

	// Expand ${VAR} references in credentials
	cfg.Database.Host = expandEnvVars(cfg.Database.Host)
	cfg.Database.Username = expandEnvVars(cfg.Database.Username)
	cfg.Database.Password = expandEnvVars(cfg.Database.Password)
	cfg.Database.Database = expandEnvVars(cfg.Database.Database)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks the loaded configuration for obvious mistakes.
func validate(cfg *Config) error {
	if cfg.Database.Type == "" {
		return fmt.Errorf("database.type must not be empty")
	}
	if cfg.Database.Type == "postgres" && cfg.Database.Host == "" {
		return fmt.Errorf("database.host is required for postgres")
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}
