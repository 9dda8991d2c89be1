package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variable names. Credentials never live in the config file.
const (
	EnvConfigPath = "IPHOTO_DOWNLOADER_CONFIG"
	EnvUsername   = "ICLOUD_USERNAME"
	EnvPassword   = "ICLOUD_PASSWORD" //nolint:gosec // env var name, not a credential
)

// ErrInvalid is wrapped by every configuration error so main can map the
// whole class to a single exit code.
var ErrInvalid = errors.New("config: invalid configuration")

// Load reads and parses a TOML config file, applies environment overrides,
// validates, and returns the resulting Config. Unknown keys are fatal:
// silently ignoring a typo in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// validated Config populated with defaults plus environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		applyEnv(cfg)

		if err := Validate(cfg); err != nil {
			return nil, err
		}

		return cfg, nil
	}

	return Load(path)
}

// ResolveConfigPath picks the config file location: CLI flag > environment >
// platform default.
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}

	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}

	return DefaultConfigPath()
}

// applyEnv reads the credential environment variables into the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvUsername); v != "" {
		cfg.Username = v
	}

	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Password = v
	}
}

// checkUnknownKeys fails loading when the TOML file contains keys that do
// not map to any Config field.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}

	return fmt.Errorf("%w: unknown config keys: %s", ErrInvalid, strings.Join(keys, ", "))
}
