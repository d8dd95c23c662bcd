// Package config loads uberdot's configuration. Built-in defaults are
// embedded and merged with uberdot.toml files found in the system and
// XDG search paths, plus an optional explicit path.
package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/schuerik/uberdot/pkg/errors"
)

//go:embed uberdot.toml
var defaultConfig []byte

// ConfigFileName is the name of the user-facing config file.
const ConfigFileName = "uberdot.toml"

// Settings holds tool-wide behaviour switches.
type Settings struct {
	TagSeparator    string `koanf:"tag_separator"`
	HashSeparator   string `koanf:"hash_separator"`
	BackupExtension string `koanf:"backup_extension"`
	ProfileFiles    string `koanf:"profile_files"`
	TargetFiles     string `koanf:"target_files"`
	DecryptPassword string `koanf:"decrypt_password"`
	AgeIdentity     string `koanf:"age_identity"`
	ShellTimeout    int    `koanf:"shell_timeout"`
	Color           bool   `koanf:"color"`
}

// Defaults holds the initial option set for root profiles. A profile's
// default() command resets options back to these values.
type Defaults struct {
	Directory      string   `koanf:"directory"`
	Name           string   `koanf:"name"`
	Optional       bool     `koanf:"optional"`
	Secure         bool     `koanf:"secure"`
	Owner          string   `koanf:"owner"`
	Permission     int      `koanf:"permission"`
	Prefix         string   `koanf:"prefix"`
	Suffix         string   `koanf:"suffix"`
	Extension      string   `koanf:"extension"`
	Replace        string   `koanf:"replace"`
	ReplacePattern string   `koanf:"replace_pattern"`
	Tags           []string `koanf:"tags"`
}

// Config is the fully merged configuration.
type Config struct {
	Settings Settings `koanf:"settings"`
	Defaults Defaults `koanf:"defaults"`
}

// SearchPaths returns the directories scanned for uberdot.toml and
// black.list files, lowest priority first.
func SearchPaths() []string {
	return []string{
		"/etc/uberdot",
		filepath.Join(xdg.ConfigHome, "uberdot"),
	}
}

// rawBytesProvider feeds embedded bytes into koanf.
type rawBytesProvider struct {
	bytes []byte
}

func (p *rawBytesProvider) ReadBytes() ([]byte, error) {
	return p.bytes, nil
}

func (p *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New(errors.ErrFatal, "rawBytesProvider does not support Read")
}

// Load merges the embedded defaults, the search-path config files and an
// optional explicit config file (highest priority).
func Load(explicitPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, errors.Wrap(err, errors.ErrFatal, "embedded defaults are unparsable")
	}

	for _, dir := range SearchPaths() {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfig, "failed to parse %s", path)
		}
	}

	if explicitPath != "" {
		if err := k.Load(file.Provider(explicitPath), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfig, "failed to parse %s", explicitPath)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfig, "invalid configuration")
	}
	return &cfg, nil
}

// LoadBlacklist collects the full-match patterns from every black.list
// found in the search paths plus the given extra directories. Duplicate
// entries are dropped.
func LoadBlacklist(extraDirs ...string) ([]string, error) {
	dirs := append(SearchPaths(), extraDirs...)
	seen := make(map[string]bool)
	var patterns []string
	for _, dir := range dirs {
		path := filepath.Join(dir, "black.list")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, errors.ErrConfig, "failed to read %s", path)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") || seen[line] {
				continue
			}
			seen[line] = true
			patterns = append(patterns, line)
		}
	}
	return patterns, nil
}
