// Package executor applies solved operations to the filesystem. The
// installed-state document is updated and persisted after every
// successful operation, so an aborted run leaves a state file that
// reflects exactly what was mutated.
package executor

import (
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/schuerik/uberdot/pkg/diff"
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/logging"
	"github.com/schuerik/uberdot/pkg/state"
)

// Options control how operations are applied.
type Options struct {
	// DryRun reports every operation without touching the filesystem or
	// the state file.
	DryRun bool

	// Makedirs creates missing parent directories for new links. Empty
	// directories left behind by removed links are only pruned when it
	// is set, since only then did uberdot create them.
	Makedirs bool
}

// Entry is one line of the run report.
type Entry struct {
	Description string
	Applied     bool
}

// Report collects what a run did, or would do.
type Report struct {
	Entries []Entry
}

// Executor applies operations in solver order.
type Executor struct {
	store *state.Store
	doc   state.Document
	opts  Options

	// directories this run created; only these are pruned again
	createdDirs map[string]bool
}

// New creates an Executor over the loaded state document.
func New(store *state.Store, doc state.Document, opts Options) *Executor {
	return &Executor{store: store, doc: doc, opts: opts, createdDirs: make(map[string]bool)}
}

// Apply performs the operations in order. The first failure aborts the
// remaining operations; already applied ones stay applied and recorded.
// The returned report covers everything up to and including the failed
// operation.
func (e *Executor) Apply(ops []diff.Operation) (*Report, error) {
	logger := logging.GetLogger("executor")
	report := &Report{}

	for _, op := range ops {
		if e.opts.DryRun {
			report.Entries = append(report.Entries, Entry{Description: op.Describe()})
			continue
		}
		if err := e.perform(op); err != nil {
			report.Entries = append(report.Entries, Entry{Description: op.Describe()})
			return report, err
		}
		diff.Apply(e.doc, op)
		if err := e.store.Save(e.doc); err != nil {
			return report, err
		}
		logger.Info().Str("operation", op.Describe()).Msg("Applied")
		report.Entries = append(report.Entries, Entry{Description: op.Describe(), Applied: true})
	}
	return report, nil
}

// perform executes the filesystem side of one operation. Profile
// operations only touch the state document.
func (e *Executor) perform(op diff.Operation) error {
	switch op := op.(type) {
	case diff.AddLink:
		return e.createLink(op.Link)
	case diff.RemoveLink:
		return e.removeLink(op.Link)
	case diff.UpdateLink:
		if err := e.removeLink(op.Old); err != nil {
			return err
		}
		return e.createLink(op.New)
	}
	return nil
}

func (e *Executor) createLink(link state.Link) error {
	dir := filepath.Dir(link.Name)
	if _, err := os.Stat(dir); err != nil {
		if !e.opts.Makedirs {
			return errors.Newf(errors.ErrMissingDirectory,
				"directory %s does not exist", dir)
		}
		if err := e.makedirsOwned(dir, link.UID, link.GID); err != nil {
			return err
		}
	}

	// A forced overwrite or a retargeted link may leave an entry at the
	// link path.
	if _, err := os.Lstat(link.Name); err == nil {
		if err := os.Remove(link.Name); err != nil {
			return wrapFS(err, "failed to remove existing %s", link.Name)
		}
	}
	if err := os.Symlink(link.Target, link.Name); err != nil {
		return wrapFS(err, "failed to create link %s", link.Name)
	}

	mode, err := parsePermission(link.Permission)
	if err != nil {
		return err
	}
	linkUID, linkGID, targetUID, targetGID := linkOwnership(link)
	if err := unix.Lchown(link.Name, linkUID, linkGID); err != nil {
		return wrapFS(err, "failed to set owner of link %s", link.Name)
	}
	if err := os.Chmod(link.Target, mode); err != nil {
		return wrapFS(err, "failed to set permission on %s", link.Target)
	}
	if err := os.Chown(link.Target, targetUID, targetGID); err != nil {
		return wrapFS(err, "failed to set owner of %s", link.Target)
	}
	return nil
}

// linkOwnership decides who owns the link entry and who owns the file it
// points to. The link always belongs to the configured owner; the target
// stays with the invoking user unless the link is secure, in which case
// it follows the link's owner.
func linkOwnership(link state.Link) (linkUID, linkGID, targetUID, targetGID int) {
	linkUID, linkGID = link.UID, link.GID
	targetUID, targetGID = os.Getuid(), os.Getgid()
	if link.Secure {
		targetUID, targetGID = link.UID, link.GID
	}
	return
}

func (e *Executor) removeLink(link state.Link) error {
	if err := os.Remove(link.Name); err != nil {
		if os.IsNotExist(err) {
			logger := logging.GetLogger("executor")
			logger.Warn().Str("link", link.Name).
				Msg("Link already gone, removing only its record")
			return nil
		}
		return wrapFS(err, "failed to remove link %s", link.Name)
	}
	e.pruneEmptyDirs(filepath.Dir(link.Name))
	return nil
}

// makedirsOwned creates every missing ancestor of dir and hands the new
// directories to the link's owner, so links installed for another user
// do not leave root-owned directories in their home.
func (e *Executor) makedirsOwned(dir string, uid, gid int) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := os.Mkdir(missing[i], 0755); err != nil {
			return wrapFS(err, "failed to create directory %s", missing[i])
		}
		if err := os.Chown(missing[i], uid, gid); err != nil {
			return wrapFS(err, "failed to set owner of %s", missing[i])
		}
		e.createdDirs[missing[i]] = true
	}
	return nil
}

// pruneEmptyDirs removes now-empty directories upwards from dir.
// Only directories this run created are removed; pre-existing ones are
// never touched.
func (e *Executor) pruneEmptyDirs(dir string) {
	logger := logging.GetLogger("executor")
	for e.createdDirs[dir] {
		if err := os.Remove(dir); err != nil {
			return
		}
		logger.Debug().Str("dir", dir).Msg("Removed empty directory")
		delete(e.createdDirs, dir)
		dir = filepath.Dir(dir)
	}
}

// parsePermission reads the conventional decimal notation (644) as an
// octal file mode.
func parsePermission(permission int) (os.FileMode, error) {
	mode, err := strconv.ParseUint(strconv.Itoa(permission), 8, 32)
	if err != nil {
		return 0, errors.Newf(errors.ErrInvalidOption,
			"permission %d is not a valid octal mode", permission)
	}
	return os.FileMode(mode), nil
}

func wrapFS(err error, format string, args ...interface{}) error {
	code := errors.ErrExecution
	if os.IsPermission(err) {
		code = errors.ErrPermission
	}
	return errors.Wrapf(err, code, format, args...)
}
