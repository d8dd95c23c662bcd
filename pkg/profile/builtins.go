package profile

import (
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/schuerik/uberdot/pkg/dynfile"
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/logging"
	"github.com/schuerik/uberdot/pkg/paths"
	"github.com/schuerik/uberdot/pkg/sysinfo"
)

// builtins returns the global environment a profile script runs in.
func builtins(c *Context) starlark.StringDict {
	return starlark.StringDict{
		"cd":      starlark.NewBuiltin("cd", c.cdFn),
		"opt":     starlark.NewBuiltin("opt", c.optFn),
		"default": starlark.NewBuiltin("default", c.defaultFn),
		"tags":    starlark.NewBuiltin("tags", c.tagsFn),
		"rmtags":  starlark.NewBuiltin("rmtags", c.rmtagsFn),
		"has_tag": starlark.NewBuiltin("has_tag", c.hasTagFn),
		"find":    starlark.NewBuiltin("find", c.findFn),
		"link":    starlark.NewBuiltin("link", c.linkFn),
		"links":   starlark.NewBuiltin("links", c.linksFn),
		"extlink": starlark.NewBuiltin("extlink", c.extlinkFn),
		"decrypt": starlark.NewBuiltin("decrypt", c.decryptFn),
		"merge":   starlark.NewBuiltin("merge", c.mergeFn),
		"pipe":    starlark.NewBuiltin("pipe", c.pipeFn),
		"subprof": starlark.NewBuiltin("subprof", c.subprofFn),
		"info":    infoModule(),
	}
}

// dynamicFileValue exposes a generated artifact to scripts, so that
// decrypt()/merge()/pipe() results can be passed to link().
type dynamicFileValue struct {
	df *dynfile.DynamicFile
}

func (v dynamicFileValue) String() string        { return v.df.Path }
func (v dynamicFileValue) Type() string          { return "dynamic_file" }
func (v dynamicFileValue) Freeze()               {}
func (v dynamicFileValue) Truth() starlark.Bool  { return starlark.True }
func (v dynamicFileValue) Hash() (uint32, error) { return starlark.String(v.df.Path).Hash() }

func (v dynamicFileValue) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(v.df.Name), nil
	case "path":
		return starlark.String(v.df.Path), nil
	}
	return nil, nil
}

func (v dynamicFileValue) AttrNames() []string { return []string{"name", "path"} }

// resolveDir expands a path and resolves it against the context's
// current directory if relative.
func (c *Context) resolveDir(path string) string {
	path = paths.ExpandPath(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.directory, path)
	}
	return filepath.Clean(path)
}

func (c *Context) cdFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}
	c.directory = c.resolveDir(path)
	return starlark.None, nil
}

func (c *Context) optFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, errors.Newf(errors.ErrInvalidOption,
			"%s() accepts options as keyword arguments only", b.Name())
	}
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if err := c.applyOption(&c.options, &c.directory, key, kv[1]); err != nil {
			return nil, err
		}
	}
	return starlark.None, nil
}

func (c *Context) defaultFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, errors.Newf(errors.ErrInvalidOption,
			"%s() accepts option names as positional arguments only", b.Name())
	}
	defaults := OptionsFromDefaults(c.interp.config.Defaults)
	defaultDir := paths.ExpandPath(c.interp.config.Defaults.Directory)
	if len(args) == 0 {
		c.options = defaults
		c.directory = defaultDir
		return starlark.None, nil
	}
	for _, arg := range args {
		name, ok := starlark.AsString(arg)
		if !ok {
			return nil, errors.Newf(errors.ErrInvalidOption,
				"%s() expects option names as strings", b.Name())
		}
		switch name {
		case "directory":
			c.directory = defaultDir
		case "name":
			c.options.Name = defaults.Name
		case "owner":
			c.options.Owner = defaults.Owner
		case "prefix":
			c.options.Prefix = defaults.Prefix
		case "suffix":
			c.options.Suffix = defaults.Suffix
		case "extension":
			c.options.Extension = defaults.Extension
		case "replace":
			c.options.Replace = defaults.Replace
		case "replace_pattern":
			c.options.ReplacePattern = defaults.ReplacePattern
		case "permission":
			c.options.Permission = defaults.Permission
		case "optional":
			c.options.Optional = defaults.Optional
		case "secure":
			c.options.Secure = defaults.Secure
		case "tags":
			c.options.Tags = append([]string(nil), defaults.Tags...)
		default:
			return nil, errors.Newf(errors.ErrInvalidOption, "unknown option %q", name)
		}
	}
	return starlark.None, nil
}

func (c *Context) tagsFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	tags, err := stringArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	c.options.AddTags(tags...)
	return starlark.None, nil
}

func (c *Context) rmtagsFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	tags, err := stringArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	c.options.RemoveTags(tags...)
	return starlark.None, nil
}

func (c *Context) hasTagFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var tag string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &tag); err != nil {
		return nil, err
	}
	return starlark.Bool(c.options.HasTag(tag)), nil
}

// findFn resolves a target name against the dotfile tree and returns
// the path, or None when nothing matches.
func (c *Context) findFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	path, err := c.interp.finder.Find(name, c.options.Tags)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return starlark.None, nil
	}
	return starlark.String(path), nil
}

func (c *Context) linkFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	logger := logging.GetLogger("profile")
	opts := c.options.Clone()
	dir := c.directory
	if err := c.applyKwargs(&opts, &dir, kwargs); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.Newf(errors.ErrInvalidOption, "%s() needs at least one target", b.Name())
	}
	for _, arg := range args {
		switch target := arg.(type) {
		case dynamicFileValue:
			if err := c.emitLink(target.df.Path, target.df.Name, opts, dir); err != nil {
				return nil, err
			}
		case starlark.String:
			path, err := c.interp.finder.Find(string(target), opts.Tags)
			if err != nil {
				return nil, err
			}
			if path == "" {
				if opts.Optional {
					logger.Debug().Str("profile", c.name).Str("target", string(target)).
						Msg("Skipping optional link, no target file found")
					continue
				}
				return nil, errors.Newf(errors.ErrFileNotFound,
					"no target file found for %q", string(target))
			}
			display := c.interp.finder.StripTag(filepath.Base(path))
			if err := c.emitLink(path, display, opts, dir); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Newf(errors.ErrInvalidOption,
				"%s() targets must be strings or dynamic files, got %s", b.Name(), arg.Type())
		}
	}
	return starlark.None, nil
}

func (c *Context) linksFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	logger := logging.GetLogger("profile")
	var pattern string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &pattern); err != nil {
		return nil, err
	}
	opts := c.options.Clone()
	dir := c.directory
	encrypted := false
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		switch key {
		case "encrypted":
			v, ok := kv[1].(starlark.Bool)
			if !ok {
				return nil, errors.New(errors.ErrInvalidOption, "encrypted must be a bool")
			}
			encrypted = bool(v)
		case "name":
			// A single name cannot apply to several matched files.
			return nil, errors.Newf(errors.ErrInvalidOption,
				"%s() does not accept the name option", b.Name())
		default:
			if err := c.applyOption(&opts, &dir, key, kv[1]); err != nil {
				return nil, err
			}
		}
	}
	if opts.Replace != "" && opts.ReplacePattern == "" {
		opts.ReplacePattern = pattern
	}

	found, err := c.interp.finder.FindAll(pattern, opts.Tags)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 && !opts.Optional {
		return nil, errors.Newf(errors.ErrFileNotFound,
			"no target files match pattern %q", pattern)
	}
	for _, path := range found {
		display := c.interp.finder.StripTag(filepath.Base(path))
		target := path
		if encrypted {
			df, err := c.interp.engine.Build(c.goCtx, dynfile.Decrypted, display,
				[]string{path}, c.interp.decryptTransform())
			if err != nil {
				return nil, err
			}
			target = df.Path
		}
		logger.Trace().Str("profile", c.name).Str("target", target).Msg("Matched target file")
		if err := c.emitLink(target, display, opts, dir); err != nil {
			return nil, err
		}
	}
	return starlark.None, nil
}

// extlinkFn links a file that lives outside the dotfile tree.
func (c *Context) extlinkFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &path); err != nil {
		return nil, err
	}
	opts := c.options.Clone()
	dir := c.directory
	if err := c.applyKwargs(&opts, &dir, kwargs); err != nil {
		return nil, err
	}
	abs := c.resolveDir(path)
	if _, err := os.Stat(abs); err != nil {
		if opts.Optional {
			logger := logging.GetLogger("profile")
			logger.Warn().Str("profile", c.name).Str("path", abs).
				Msg("Skipping optional external link, path does not exist")
			return starlark.None, nil
		}
		return nil, errors.Newf(errors.ErrFileNotFound, "external link target %s does not exist", abs)
	}
	if err := c.emitLink(abs, filepath.Base(abs), opts, dir); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (c *Context) decryptFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	path, err := c.interp.find(name, c.options.Tags)
	if err != nil {
		return nil, err
	}
	display := c.interp.finder.StripTag(filepath.Base(path))
	df, err := c.interp.engine.Build(c.goCtx, dynfile.Decrypted, display,
		[]string{path}, c.interp.decryptTransform())
	if err != nil {
		return nil, err
	}
	return dynamicFileValue{df: df}, nil
}

func (c *Context) mergeFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var targets *starlark.List
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &targets); err != nil {
		return nil, err
	}
	if targets.Len() < 2 {
		return nil, errors.Newf(errors.ErrInvalidOption,
			"%s() needs at least two targets", b.Name())
	}
	sources := make([]string, 0, targets.Len())
	for i := 0; i < targets.Len(); i++ {
		target, ok := starlark.AsString(targets.Index(i))
		if !ok {
			return nil, errors.Newf(errors.ErrInvalidOption,
				"%s() targets must be strings", b.Name())
		}
		path, err := c.interp.find(target, c.options.Tags)
		if err != nil {
			return nil, err
		}
		sources = append(sources, path)
	}
	df, err := c.interp.engine.Build(c.goCtx, dynfile.Merged, name, sources, dynfile.MergeTransform())
	if err != nil {
		return nil, err
	}
	return dynamicFileValue{df: df}, nil
}

func (c *Context) pipeFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, shellCommand string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &shellCommand); err != nil {
		return nil, err
	}
	path, err := c.interp.find(name, c.options.Tags)
	if err != nil {
		return nil, err
	}
	display := c.interp.finder.StripTag(filepath.Base(path))
	df, err := c.interp.engine.Build(c.goCtx, dynfile.Piped, display,
		[]string{path}, dynfile.PipeTransform(shellCommand, c.interp.shellTimeout()))
	if err != nil {
		return nil, err
	}
	return dynamicFileValue{df: df}, nil
}

func (c *Context) subprofFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	opts := c.options.Clone()
	dir := c.directory
	if err := c.applyKwargs(&opts, &dir, kwargs); err != nil {
		return nil, err
	}
	for _, arg := range args {
		name, ok := starlark.AsString(arg)
		if !ok {
			return nil, errors.Newf(errors.ErrInvalidOption,
				"%s() expects profile names as strings", b.Name())
		}
		if c.inParentChain(name) {
			return nil, errors.Newf(errors.ErrProfileCycle,
				"subprofile %q is already executing as an ancestor of %q", name, c.name)
		}
		sub, err := c.interp.execute(c.goCtx, name, opts.Clone(), dir, c)
		if err != nil {
			return nil, err
		}
		c.result.Subprofiles = append(c.result.Subprofiles, sub)
	}
	return starlark.None, nil
}

// applyKwargs overlays keyword arguments onto a call-local option set.
func (c *Context) applyKwargs(opts *Options, directory *string, kwargs []starlark.Tuple) error {
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if err := c.applyOption(opts, directory, key, kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) applyOption(opts *Options, directory *string, key string, value starlark.Value) error {
	switch key {
	case "directory":
		s, err := optString(key, value)
		if err != nil {
			return err
		}
		dir := paths.ExpandPath(s)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(*directory, dir)
		}
		*directory = filepath.Clean(dir)
	case "name":
		return setString(&opts.Name, key, value)
	case "owner":
		return setString(&opts.Owner, key, value)
	case "prefix":
		return setString(&opts.Prefix, key, value)
	case "suffix":
		return setString(&opts.Suffix, key, value)
	case "extension":
		return setString(&opts.Extension, key, value)
	case "replace":
		return setString(&opts.Replace, key, value)
	case "replace_pattern":
		return setString(&opts.ReplacePattern, key, value)
	case "permission":
		i, ok := value.(starlark.Int)
		if !ok {
			return errors.Newf(errors.ErrInvalidOption, "option %q must be an int", key)
		}
		v, ok := i.Int64()
		if !ok || v < 0 {
			return errors.Newf(errors.ErrInvalidOption, "option %q is out of range", key)
		}
		opts.Permission = int(v)
	case "optional":
		return setBool(&opts.Optional, key, value)
	case "secure":
		return setBool(&opts.Secure, key, value)
	case "tags":
		list, ok := value.(*starlark.List)
		if !ok {
			return errors.Newf(errors.ErrInvalidOption, "option %q must be a list of strings", key)
		}
		tags := make([]string, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			tag, ok := starlark.AsString(list.Index(i))
			if !ok {
				return errors.Newf(errors.ErrInvalidOption, "option %q must be a list of strings", key)
			}
			tags = append(tags, tag)
		}
		opts.Tags = tags
	default:
		return errors.Newf(errors.ErrInvalidOption, "unknown option %q", key)
	}
	return nil
}

func optString(key string, value starlark.Value) (string, error) {
	s, ok := starlark.AsString(value)
	if !ok {
		return "", errors.Newf(errors.ErrInvalidOption, "option %q must be a string", key)
	}
	return s, nil
}

func setString(dst *string, key string, value starlark.Value) error {
	s, err := optString(key, value)
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

func setBool(dst *bool, key string, value starlark.Value) error {
	b, ok := value.(starlark.Bool)
	if !ok {
		return errors.Newf(errors.ErrInvalidOption, "option %q must be a bool", key)
	}
	*dst = bool(b)
	return nil
}

func stringArgs(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) ([]string, error) {
	if len(kwargs) > 0 {
		return nil, errors.Newf(errors.ErrInvalidOption,
			"%s() takes no keyword arguments", b.Name())
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		s, ok := starlark.AsString(arg)
		if !ok {
			return nil, errors.Newf(errors.ErrInvalidOption,
				"%s() expects strings, got %s", b.Name(), arg.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

// infoModule exposes read-only system facts to profile scripts so they
// can branch per machine.
func infoModule() *starlarkstruct.Module {
	str := func(name string, fn func() string) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			return starlark.String(fn()), nil
		})
	}
	return &starlarkstruct.Module{
		Name: "info",
		Members: starlark.StringDict{
			"distribution": str("info.distribution", sysinfo.Distribution),
			"hostname":     str("info.hostname", sysinfo.Hostname),
			"kernel":       str("info.kernel", sysinfo.Kernel),
			"username":     str("info.username", sysinfo.Username),
			"is_64bit": starlark.NewBuiltin("info.is_64bit", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
					return nil, err
				}
				return starlark.Bool(sysinfo.Is64Bit()), nil
			}),
			"pkg_installed": starlark.NewBuiltin("info.pkg_installed", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var name string
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
					return nil, err
				}
				return starlark.Bool(sysinfo.PkgInstalled(name)), nil
			}),
		},
	}
}
