// Package paths provides centralized path handling for uberdot following
// the XDG Base Directory specification.
package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"

	"github.com/schuerik/uberdot/pkg/errors"
)

// Environment variable overrides.
const (
	// EnvTargetFiles overrides the dotfile source tree location.
	EnvTargetFiles = "UBERDOT_TARGET_FILES"

	// EnvProfileFiles overrides the profile script directory.
	EnvProfileFiles = "UBERDOT_PROFILE_FILES"

	// EnvDataDir overrides the XDG data directory for uberdot.
	EnvDataDir = "UBERDOT_DATA_DIR"
)

// Names inside the data directory. These define uberdot's on-disk layout
// and are not user-configurable.
const (
	AppDirName   = "uberdot"
	SessionDir   = "sessions"
	DecryptedDir = "decrypted"
	MergedDir    = "merged"
	PipedDir     = "piped"
)

// Paths resolves every location uberdot reads or writes.
type Paths struct {
	targetFiles  string
	profileFiles string
	dataDir      string
}

// New builds a Paths from the configured directory names. Relative
// configured values are resolved against the data directory.
func New(targetFiles, profileFiles string) (*Paths, error) {
	dataDir := os.Getenv(EnvDataDir)
	if dataDir == "" {
		dataDir = filepath.Join(xdg.DataHome, AppDirName)
	}

	if env := os.Getenv(EnvTargetFiles); env != "" {
		targetFiles = env
	}
	if env := os.Getenv(EnvProfileFiles); env != "" {
		profileFiles = env
	}
	if targetFiles == "" || profileFiles == "" {
		return nil, errors.New(errors.ErrConfig,
			"target_files and profile_files must be configured")
	}

	p := &Paths{
		targetFiles:  resolveAgainst(dataDir, targetFiles),
		profileFiles: resolveAgainst(dataDir, profileFiles),
		dataDir:      dataDir,
	}
	return p, nil
}

func resolveAgainst(base, path string) string {
	path = ExpandPath(path)
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

// TargetFiles is the root of the dotfile source tree.
func (p *Paths) TargetFiles() string { return p.targetFiles }

// ProfileFiles is the directory holding profile scripts.
func (p *Paths) ProfileFiles() string { return p.profileFiles }

// DataDir is uberdot's private data directory.
func (p *Paths) DataDir() string { return p.dataDir }

// DynamicDir returns the subdirectory for a dynamic-file kind.
func (p *Paths) DynamicDir(kind string) string {
	return filepath.Join(p.dataDir, kind)
}

// StateFile returns the path of the named installed-state file.
// The default session is named "default".
func (p *Paths) StateFile(session string) string {
	return filepath.Join(p.dataDir, SessionDir, session+".json")
}

// ProfileScript returns the path of the named profile's script.
func (p *Paths) ProfileScript(name string) string {
	return filepath.Join(p.profileFiles, name+".star")
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return os.ExpandEnv(path)
}

// NormPath expands a path and makes it absolute relative to the working
// directory.
func NormPath(path string) string {
	path = ExpandPath(path)
	if !filepath.IsAbs(path) {
		if wd, err := os.Getwd(); err == nil {
			path = filepath.Join(wd, path)
		}
	}
	return filepath.Clean(path)
}
