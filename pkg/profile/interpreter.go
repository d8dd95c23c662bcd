package profile

import (
	"context"
	stderrors "errors"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/schuerik/uberdot/pkg/config"
	"github.com/schuerik/uberdot/pkg/dynfile"
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/finder"
	"github.com/schuerik/uberdot/pkg/logging"
	"github.com/schuerik/uberdot/pkg/paths"
)

// Profile scripts get the full small-language surface of Starlark.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// Interpreter executes profile scripts. It tracks which profiles already
// ran so that no profile is generated twice within one run.
type Interpreter struct {
	paths    *paths.Paths
	config   *config.Config
	finder   *finder.Finder
	engine   *dynfile.Engine
	executed map[string]bool
}

// New creates an Interpreter for a single run.
func New(p *paths.Paths, cfg *config.Config) *Interpreter {
	return &Interpreter{
		paths:  p,
		config: cfg,
		finder: finder.New(p.TargetFiles(), cfg.Settings.TagSeparator),
		engine: dynfile.NewEngine(p.DataDir(),
			cfg.Settings.HashSeparator, cfg.Settings.BackupExtension),
		executed: make(map[string]bool),
	}
}

// Execute runs the named profile script as a root profile and returns
// the resulting profile tree.
func (in *Interpreter) Execute(ctx context.Context, name string, opts Options, directory string) (*Profile, error) {
	return in.execute(ctx, name, opts, directory, nil)
}

// ExecuteAll runs several root profiles with the same initial options.
func (in *Interpreter) ExecuteAll(ctx context.Context, names []string, opts Options, directory string) ([]*Profile, error) {
	profiles := make([]*Profile, 0, len(names))
	for _, name := range names {
		p, err := in.execute(ctx, name, opts, directory, nil)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (in *Interpreter) execute(ctx context.Context, name string, opts Options, directory string, parent *Context) (*Profile, error) {
	logger := logging.GetLogger("profile")

	if in.executed[name] {
		return nil, errors.Newf(errors.ErrGeneration,
			"profile %q is generated twice in this run", name)
	}
	in.executed[name] = true

	script := in.paths.ProfileScript(name)
	src, err := os.ReadFile(script)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrProfileNotFound,
				"no script for profile %q at %s", name, script)
		}
		return nil, errors.Wrapf(err, errors.ErrGeneration,
			"failed to read profile script %s", script)
	}

	c := &Context{
		name:      name,
		directory: directory,
		options:   opts.Clone(),
		parent:    parent,
		result:    &Profile{Name: name},
		interp:    in,
		goCtx:     ctx,
	}

	logger.Debug().Str("profile", name).Str("script", script).Msg("Generating profile")

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info().Str("profile", name).Msg(msg)
		},
	}
	if _, err := starlark.ExecFileOptions(fileOptions, thread, script, src, builtins(c)); err != nil {
		// Failed profile commands carry their own error code; unwrap them
		// from starlark's EvalError so the code survives. Anything else is
		// a bug in the script itself.
		var uerr *errors.UberdotError
		if stderrors.As(err, &uerr) {
			return nil, uerr
		}
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, errors.Newf(errors.ErrGeneration,
				"profile %q failed: %s", name, evalErr.Backtrace())
		}
		return nil, errors.Wrapf(err, errors.ErrGeneration, "profile %q failed", name)
	}

	logger.Debug().Str("profile", name).
		Int("links", len(c.result.Links)).
		Int("subprofiles", len(c.result.Subprofiles)).
		Msg("Profile generated")
	return c.result, nil
}

// shellTimeout is the timeout applied to decryption and pipe
// subprocesses.
func (in *Interpreter) shellTimeout() time.Duration {
	return time.Duration(in.config.Settings.ShellTimeout) * time.Second
}

// decryptTransform selects the configured decryption backend: an age
// identity when one is configured, otherwise gpg.
func (in *Interpreter) decryptTransform() dynfile.Transform {
	if id := in.config.Settings.AgeIdentity; id != "" {
		return dynfile.AgeDecryptTransform(paths.ExpandPath(id))
	}
	return dynfile.GPGDecryptTransform(in.config.Settings.DecryptPassword, in.shellTimeout())
}

// find resolves a target file name against the dotfile tree with the
// context's active tags, failing when the file does not exist.
func (in *Interpreter) find(name string, tags []string) (string, error) {
	path, err := in.finder.Find(name, tags)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", errors.Newf(errors.ErrFileNotFound,
			"no target file found for %q", name)
	}
	return path, nil
}
