// Package finder locates dotfiles in the source tree. A physical file is
// named "<tag><sep><logical name>" or just "<logical name>"; lookups pick
// the version whose tag comes first in the caller's active tag list, with
// untagged files as the lowest-priority fallback.
package finder

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/logging"
)

// IgnoreFileName lists patterns of files the walk skips, one full-match
// regex per line, located at the root of the source tree.
const IgnoreFileName = ".dotignore"

// Finder resolves logical dotfile names against a source tree.
type Finder struct {
	root         string
	tagSeparator string
}

// New creates a Finder over the given source tree root.
func New(root, tagSeparator string) *Finder {
	return &Finder{root: root, tagSeparator: tagSeparator}
}

// entry is one physical file: its tag (empty for untagged) and full path.
type entry struct {
	tag  string
	path string
}

// Find locates the best matching physical file for a logical name.
// Returns an empty path if nothing matches; the caller decides whether
// that is an error. Two matches for the winning tag is ambiguous.
func (f *Finder) Find(name string, tags []string) (string, error) {
	byName, err := f.index()
	if err != nil {
		return "", err
	}
	return resolve(name, byName[name], tags)
}

// FindAll resolves every logical name matching the pattern, each one
// independently through the tag rule. Backs the links() command.
func (f *Finder) FindAll(pattern string, tags []string) ([]string, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrGeneration,
			"invalid pattern %q", pattern)
	}

	byName, err := f.index()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var paths []string
	for _, name := range names {
		path, err := resolve(name, byName[name], tags)
		if err != nil {
			return nil, err
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// StripTag removes a leading tag from a file basename.
func (f *Finder) StripTag(base string) string {
	if _, name, ok := strings.Cut(base, f.tagSeparator); ok {
		return name
	}
	return base
}

// index walks the source tree once and groups every file by its logical
// name (basename with the tag stripped).
func (f *Finder) index() (map[string][]entry, error) {
	logger := logging.GetLogger("finder")
	ignore, err := f.loadIgnoreList()
	if err != nil {
		return nil, err
	}

	byName := make(map[string][]entry)
	walkErr := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, re := range ignore {
			if re.MatchString(path) {
				return nil
			}
		}
		base := d.Name()
		tag := ""
		name := base
		if t, n, ok := strings.Cut(base, f.tagSeparator); ok {
			tag, name = t, n
		}
		byName[name] = append(byName[name], entry{tag: tag, path: path})
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			logger.Debug().Str("root", f.root).Msg("Source tree does not exist")
			return byName, nil
		}
		return nil, errors.Wrapf(walkErr, errors.ErrGeneration,
			"failed to walk source tree %s", f.root)
	}
	return byName, nil
}

func (f *Finder) loadIgnoreList() ([]*regexp.Regexp, error) {
	patterns := []string{`\/.+\.dotignore$`}
	data, err := os.ReadFile(filepath.Join(f.root, IgnoreFileName))
	if err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				patterns = append(patterns, line)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrGeneration, "failed to read .dotignore")
	}

	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrGeneration,
				"invalid .dotignore pattern %q", p)
		}
		res = append(res, re)
	}
	return res, nil
}

// resolve picks the entry whose tag has the highest priority in tags.
// Untagged entries lose against any tagged match. More than one entry
// for the winning tag is ambiguous.
func resolve(name string, entries []entry, tags []string) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	for _, tag := range tags {
		var matches []entry
		for _, e := range entries {
			if e.tag == tag {
				matches = append(matches, e)
			}
		}
		if len(matches) > 1 {
			return "", ambiguous(name, matches)
		}
		if len(matches) == 1 {
			return matches[0].path, nil
		}
	}

	var untagged []entry
	for _, e := range entries {
		if e.tag == "" {
			untagged = append(untagged, e)
		}
	}
	if len(untagged) > 1 {
		return "", ambiguous(name, untagged)
	}
	if len(untagged) == 1 {
		return untagged[0].path, nil
	}
	return "", nil
}

func ambiguous(name string, matches []entry) error {
	err := errors.Newf(errors.ErrAmbiguousMatch,
		"there are multiple targets that match: %q", name)
	for i, m := range matches {
		err.WithDetail(fmt.Sprintf("match%d", i), m.path)
	}
	return err
}
