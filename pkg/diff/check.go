package diff

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/logging"
	"github.com/schuerik/uberdot/pkg/state"
)

// CheckOptions carry the force levels a run was invoked with.
type CheckOptions struct {
	// Force permits overwriting files that exist but are not tracked in
	// the installed state.
	Force bool

	// Superforce permits touching blacklisted paths.
	Superforce bool

	// Makedirs permits creating missing parent directories, turning the
	// missing-directory conflict into an executor task.
	Makedirs bool

	// Blacklist holds full-match regular expressions of protected
	// symlink paths.
	Blacklist []string
}

// Checker validates a solved operation list against the installed
// state and the real filesystem. All conflicts are found before the
// executor mutates anything.
type Checker struct {
	installed state.Document
	opts      CheckOptions
	patterns  []*regexp.Regexp
}

// NewChecker compiles the blacklist and builds a Checker.
func NewChecker(installed state.Document, opts CheckOptions) (*Checker, error) {
	patterns := make([]*regexp.Regexp, 0, len(opts.Blacklist))
	for _, pattern := range opts.Blacklist {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfig, "invalid blacklist pattern %q", pattern)
		}
		patterns = append(patterns, re)
	}
	return &Checker{installed: installed, opts: opts, patterns: patterns}, nil
}

// Check runs every conflict class over the operations and returns the
// first conflict found.
func (c *Checker) Check(ops []Operation) error {
	if err := c.checkUniqueTargets(ops); err != nil {
		return err
	}
	if err := c.checkBlacklist(ops); err != nil {
		return err
	}
	if err := c.checkOverwrites(ops); err != nil {
		return err
	}
	return c.checkDirectories(ops)
}

// checkUniqueTargets simulates the run over the installed link set and
// fails when two profiles would end up owning the same symlink path.
func (c *Checker) checkUniqueTargets(ops []Operation) error {
	owner := make(map[string]string)
	for profileName, p := range c.installed {
		for _, link := range p.Links {
			owner[link.Name] = profileName
		}
	}
	claim := func(name, profileName string) error {
		if other, taken := owner[name]; taken && other != profileName {
			return errors.Newf(errors.ErrTargetCollision,
				"link %s is claimed by both %q and %q in this run", name, other, profileName)
		}
		owner[name] = profileName
		return nil
	}
	for _, op := range ops {
		switch op := op.(type) {
		case RemoveLink:
			delete(owner, op.Link.Name)
		case UpdateLink:
			delete(owner, op.Old.Name)
			if err := claim(op.New.Name, op.Profile); err != nil {
				return err
			}
		case AddLink:
			if err := claim(op.Link.Name, op.Profile); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkBlacklist protects well-known sensitive paths from any link
// operation unless superforce is given.
func (c *Checker) checkBlacklist(ops []Operation) error {
	if len(c.patterns) == 0 {
		return nil
	}
	logger := logging.GetLogger("diff")
	hit := func(name string) error {
		for _, re := range c.patterns {
			if !re.MatchString(name) {
				continue
			}
			if c.opts.Superforce {
				logger.Warn().Str("link", name).Msg("Touching blacklisted file because of superforce")
				return nil
			}
			return errors.Newf(errors.ErrBlacklisted,
				"%s is blacklisted; use superforce to touch it anyway", name)
		}
		return nil
	}
	for _, op := range ops {
		var names []string
		switch op := op.(type) {
		case AddLink:
			names = []string{op.Link.Name}
		case RemoveLink:
			names = []string{op.Link.Name}
		case UpdateLink:
			names = []string{op.Old.Name, op.New.Name}
		}
		for _, name := range names {
			if err := hit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkOverwrites refuses to overwrite filesystem entries that exist at
// a new link's path but are not tracked in the installed state.
func (c *Checker) checkOverwrites(ops []Operation) error {
	tracked := make(map[string]bool)
	for _, p := range c.installed {
		for _, link := range p.Links {
			tracked[link.Name] = true
		}
	}
	check := func(name string) error {
		if tracked[name] {
			return nil
		}
		if _, err := os.Lstat(name); err != nil {
			return nil
		}
		if c.opts.Force {
			logger := logging.GetLogger("diff")
			logger.Warn().Str("path", name).
				Msg("Overwriting untracked file because of force")
			return nil
		}
		return errors.Newf(errors.ErrUnmanagedFileExists,
			"%s already exists and is not managed by uberdot; use force to overwrite it", name)
	}
	for _, op := range ops {
		switch op := op.(type) {
		case AddLink:
			if err := check(op.Link.Name); err != nil {
				return err
			}
		case UpdateLink:
			if op.New.Name != op.Old.Name {
				if err := check(op.New.Name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkDirectories fails when a new link's parent directory is missing
// and the run was not allowed to create directories.
func (c *Checker) checkDirectories(ops []Operation) error {
	if c.opts.Makedirs {
		return nil
	}
	check := func(name string) error {
		dir := filepath.Dir(name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return nil
		}
		return errors.Newf(errors.ErrMissingDirectory,
			"directory %s does not exist; use makedirs to create it", dir)
	}
	for _, op := range ops {
		switch op := op.(type) {
		case AddLink:
			if err := check(op.Link.Name); err != nil {
				return err
			}
		case UpdateLink:
			if err := check(op.New.Name); err != nil {
				return err
			}
		}
	}
	return nil
}
