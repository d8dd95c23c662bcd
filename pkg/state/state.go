// Package state persists the installed-state document: the record of
// every profile and symlink a previous run has applied. It is the diff
// baseline for the solver and the only shared mutable resource of a run.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schuerik/uberdot/internal/version"
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/logging"
)

// versionKey is the reserved top-level entry carrying the state version.
const versionKey = "@version"

// TimeFormat is the timestamp format used in state files.
const TimeFormat = "2006-01-02 15:04:05"

// Link is one installed symlink as recorded at install time.
type Link struct {
	Target     string `json:"target"`
	Name       string `json:"name"`
	UID        int    `json:"uid"`
	GID        int    `json:"gid"`
	Permission int    `json:"permission"`
	Secure     bool   `json:"secure"`
	Date       string `json:"date"`
}

// Profile is one installed profile. An empty Parent means root profile.
type Profile struct {
	Name      string `json:"name"`
	Parent    string `json:"parent,omitempty"`
	Installed string `json:"installed"`
	Updated   string `json:"updated"`
	Links     []Link `json:"links"`
}

// Document maps profile names to their installed records.
type Document map[string]*Profile

// Now returns the current time formatted for state entries.
func Now() string {
	return time.Now().Format(TimeFormat)
}

// Subprofiles returns the names of all direct children of the given
// profile, sorted for deterministic iteration.
func (d Document) Subprofiles(parent string) []string {
	var children []string
	for name, p := range d {
		if p.Parent == parent {
			children = append(children, name)
		}
	}
	sort.Strings(children)
	return children
}

// FindLink returns the installed link with the given symlink path, or nil.
func (d Document) FindLink(linkName string) (*Link, string) {
	for profileName, p := range d {
		for i := range p.Links {
			if p.Links[i].Name == linkName {
				return &p.Links[i], profileName
			}
		}
	}
	return nil, ""
}

// Store loads and saves state documents with version gating and
// backup-before-write.
type Store struct {
	path            string
	backupExtension string
}

// NewStore creates a Store for the given state file path.
func NewStore(path, backupExtension string) *Store {
	return &Store{path: path, backupExtension: backupExtension}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// BackupPath returns the sibling path the previous content is copied to
// before each write.
func (s *Store) BackupPath() string {
	return s.path + "." + s.backupExtension
}

// Load reads the state document. A missing file yields an empty document.
// A schema version mismatch is a hard stop: the file is left untouched
// and no migration is attempted.
func (s *Store) Load() (Document, error) {
	logger := logging.GetLogger("state")

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug().Str("path", s.path).Msg("No state file found, starting empty")
			return Document{}, nil
		}
		return nil, errors.Wrapf(err, errors.ErrStateCorrupt, "failed to read state file %s", s.path)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, errors.ErrStateCorrupt, "state file %s is not valid JSON", s.path)
	}

	var fileVersion string
	if rawVersion, ok := raw[versionKey]; ok {
		if err := json.Unmarshal(rawVersion, &fileVersion); err != nil {
			return nil, errors.Wrapf(err, errors.ErrStateCorrupt, "state file %s has a malformed version entry", s.path)
		}
	}
	if err := checkSchema(fileVersion); err != nil {
		return nil, err
	}
	delete(raw, versionKey)

	doc := make(Document, len(raw))
	for name, rawProfile := range raw {
		var p Profile
		if err := json.Unmarshal(rawProfile, &p); err != nil {
			return nil, errors.Wrapf(err, errors.ErrStateCorrupt,
				"state entry for profile %q is malformed", name)
		}
		if p.Name == "" {
			p.Name = name
		}
		doc[name] = &p
	}

	logger.Debug().Int("profiles", len(doc)).Str("path", s.path).Msg("State loaded")
	return doc, nil
}

// Save writes the document. The previous file content, if any, is copied
// to the backup sibling first so a crash mid-write can be recovered by
// hand.
func (s *Store) Save(doc Document) error {
	logger := logging.GetLogger("state")

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrap(err, errors.ErrExecution, "failed to create state directory")
	}

	if previous, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.BackupPath(), previous, 0644); err != nil {
			return errors.Wrap(err, errors.ErrExecution, "failed to write state backup")
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, errors.ErrExecution, "failed to read previous state")
	}

	raw := make(map[string]interface{}, len(doc)+1)
	raw[versionKey] = version.StateVersion()
	for name, p := range doc {
		raw[name] = p
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrFatal, "state document is not serializable")
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0644); err != nil {
		return errors.Wrapf(err, errors.ErrExecution, "failed to write state file %s", s.path)
	}

	logger.Debug().Int("profiles", len(doc)).Str("path", s.path).Msg("State saved")
	return nil
}

// checkSchema compares the schema suffix of a "@version" value against
// the running schema version. The release prefix is informational only.
func checkSchema(fileVersion string) error {
	if fileVersion == "" {
		return errors.New(errors.ErrStateCorrupt, "state file has no version entry")
	}
	idx := strings.LastIndex(fileVersion, "_")
	if idx < 0 {
		return errors.Newf(errors.ErrStateCorrupt,
			"state version %q is not of the form <release>_<schema>", fileVersion)
	}
	schema := fileVersion[idx+1:]
	if schema != version.SchemaVersion {
		return errors.Newf(errors.ErrSchemaMismatch,
			"state file uses schema version %s but this release requires %s; "+
				"refusing to read it, reconcile manually", schema, version.SchemaVersion)
	}
	return nil
}
