// Package dynfile builds derived artifacts (decrypted, merged, piped)
// from resolved source files. Artifacts are content-addressed: the output
// file name embeds the BLAKE3 hash of its content, which doubles as the
// out-of-band edit detector.
package dynfile

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/logging"
)

// Kind names the subdirectory an artifact is generated into.
type Kind string

const (
	Decrypted Kind = "decrypted"
	Merged    Kind = "merged"
	Piped     Kind = "piped"
)

// Transform produces an artifact's content from its source contents.
// Implementations must be pure over the given bytes apart from consulting
// external state they declare (a decryption key, a subprocess).
type Transform func(ctx context.Context, sources [][]byte) ([]byte, error)

// DynamicFile describes one generated artifact.
type DynamicFile struct {
	Name    string
	Kind    Kind
	Sources []string
	Hash    string
	Path    string
}

// Engine generates artifacts under a store directory, one subdirectory
// per kind.
type Engine struct {
	storeDir        string
	hashSeparator   string
	backupExtension string
}

// NewEngine creates an Engine writing below storeDir.
func NewEngine(storeDir, hashSeparator, backupExtension string) *Engine {
	return &Engine{
		storeDir:        storeDir,
		hashSeparator:   hashSeparator,
		backupExtension: backupExtension,
	}
}

// HashContent returns the hex BLAKE3 digest of content.
func HashContent(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Build runs the transform against freshly read sources, content-addresses
// the result and writes it (plus a backup copy) into the kind's
// subdirectory, unless an output with that exact hash already exists.
// Generation always runs, even for dry runs, because the content may
// depend on external state.
func (e *Engine) Build(ctx context.Context, kind Kind, name string, sources []string, transform Transform) (*DynamicFile, error) {
	logger := logging.GetLogger("dynfile")

	contents := make([][]byte, len(sources))
	for i, src := range sources {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrFileNotFound,
				"failed to read source %s for dynamic file %q", src, name)
		}
		contents[i] = data
	}

	generated, err := transform(ctx, contents)
	if err != nil {
		return nil, err
	}

	hash := HashContent(generated)
	dir := filepath.Join(e.storeDir, string(kind))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrExecution, "failed to create %s", dir)
	}

	df := &DynamicFile{
		Name:    name,
		Kind:    kind,
		Sources: sources,
		Hash:    hash,
		Path:    filepath.Join(dir, name+e.hashSeparator+hash),
	}

	if _, err := os.Stat(df.Path); err == nil {
		logger.Debug().Str("path", df.Path).Msg("Artifact with identical hash exists, skipping write")
		return df, nil
	}

	if err := os.WriteFile(df.Path, generated, 0644); err != nil {
		return nil, errors.Wrapf(err, errors.ErrExecution, "failed to write %s", df.Path)
	}
	if err := os.WriteFile(df.BackupPath(e.backupExtension), generated, 0644); err != nil {
		return nil, errors.Wrapf(err, errors.ErrExecution, "failed to write backup of %s", df.Path)
	}

	logger.Info().Str("name", name).Str("kind", string(kind)).Str("hash", hash).Msg("Generated dynamic file")
	return df, nil
}

// BackupPath returns the pristine copy written next to the artifact.
func (df *DynamicFile) BackupPath(backupExtension string) string {
	return df.Path + "." + backupExtension
}

// IsDynamic reports whether path points into the engine's store and
// carries an embedded hash.
func (e *Engine) IsDynamic(path string) bool {
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(e.storeDir)+string(filepath.Separator)) {
		return false
	}
	return strings.Contains(filepath.Base(path), e.hashSeparator)
}

// Divergence describes an artifact whose on-disk content no longer
// matches the hash it was generated with: the user edited it out of band.
type Divergence struct {
	Path         string
	Name         string
	RecordedHash string
	ActualHash   string
	// Edited is the current on-disk content, Pristine the generated
	// content from the backup (nil if the backup is gone).
	Edited   []byte
	Pristine []byte
}

// CheckDivergence inspects an installed dynamic-file target. Returns nil
// if the path is not a dynamic file or its content still matches the
// embedded hash.
func (e *Engine) CheckDivergence(path string) (*Divergence, error) {
	if !e.IsDynamic(path) {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrExecution, "failed to read %s", path)
	}

	base := filepath.Base(path)
	name, recorded, ok := strings.Cut(base, e.hashSeparator)
	if !ok {
		return nil, nil
	}
	actual := HashContent(content)
	if actual == recorded {
		return nil, nil
	}

	div := &Divergence{
		Path:         path,
		Name:         name,
		RecordedHash: recorded,
		ActualHash:   actual,
		Edited:       content,
	}
	if pristine, err := os.ReadFile(path + "." + e.backupExtension); err == nil {
		div.Pristine = pristine
	}
	return div, nil
}

// Resolution is the caller's decision for a detected divergence.
type Resolution int

const (
	// Abort stops the whole run. The safe default for unattended runs.
	Abort Resolution = iota
	// ShowDiff asks the caller to display the diff and decide again.
	ShowDiff
	// Ignore proceeds, discarding the user's edits.
	Ignore
	// Patch writes a difference file next to the artifact so the edits
	// can be reapplied by hand, then proceeds.
	Patch
	// Undo restores the pristine generated content and proceeds.
	Undo
)

// Resolve applies a resolution. Abort and ShowDiff return an error: the
// first is final, the second carries the rendered diff for display and
// expects the caller to re-prompt.
func (e *Engine) Resolve(div *Divergence, res Resolution) error {
	logger := logging.GetLogger("dynfile")

	switch res {
	case Abort:
		return errors.Newf(errors.ErrDynamicFileDiverged,
			"%q was modified after generation; aborting to preserve your changes", div.Path)
	case ShowDiff:
		return errors.New(errors.ErrDynamicFileDiverged, "diff requested").
			WithDetail("diff", string(UnifiedDiff(div.Pristine, div.Edited, div.Name)))
	case Ignore:
		logger.Warn().Str("path", div.Path).Msg("Discarding manual changes to dynamic file")
		return nil
	case Patch:
		patchPath := div.Path + ".patch"
		diff := UnifiedDiff(div.Pristine, div.Edited, div.Name)
		if err := os.WriteFile(patchPath, diff, 0644); err != nil {
			return errors.Wrapf(err, errors.ErrExecution, "failed to write %s", patchPath)
		}
		logger.Warn().Str("patch", patchPath).Msg("Saved manual changes as patch before regenerating")
		return nil
	case Undo:
		if div.Pristine == nil {
			return errors.Newf(errors.ErrPrecondition,
				"cannot undo changes to %q, backup is missing", div.Path)
		}
		if err := os.WriteFile(div.Path, div.Pristine, 0644); err != nil {
			return errors.Wrapf(err, errors.ErrExecution, "failed to restore %s", div.Path)
		}
		return nil
	default:
		return errors.Newf(errors.ErrFatal, "unknown divergence resolution %d", res)
	}
}
