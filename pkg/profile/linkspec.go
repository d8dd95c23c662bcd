package profile

import (
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/paths"
)

// emitLink computes the final LinkSpec for a target and records it on
// the profile. display is the logical file name the link name derives
// from: the tag-stripped basename for tree files, the artifact name for
// dynamic files.
func (c *Context) emitLink(target, display string, opts Options, directory string) error {
	name, err := linkName(display, opts)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(directory, name)
	}
	name = filepath.Clean(name)

	uid, gid, err := resolveOwner(opts.Owner, name)
	if err != nil {
		return err
	}

	c.result.Links = append(c.result.Links, LinkSpec{
		Target:     target,
		Name:       name,
		UID:        uid,
		GID:        gid,
		Permission: opts.Permission,
		Secure:     opts.Secure,
	})
	return nil
}

// linkName derives the symlink name from the display name and the
// naming options. Precedence: replace > name > display name, then
// prefix, suffix and extension rewrite the resulting basename.
func linkName(display string, opts Options) (string, error) {
	var name string
	switch {
	case opts.Replace != "":
		if opts.ReplacePattern == "" {
			return "", errors.New(errors.ErrInvalidOption,
				"replace is set but replace_pattern is not")
		}
		re, err := regexp.Compile(opts.ReplacePattern)
		if err != nil {
			return "", errors.Wrapf(err, errors.ErrInvalidOption,
				"invalid replace_pattern %q", opts.ReplacePattern)
		}
		base := display
		if opts.Name != "" {
			base = opts.Name
		}
		name = re.ReplaceAllString(base, opts.Replace)
	case opts.Name != "":
		name = paths.ExpandPath(opts.Name)
		if strings.HasSuffix(name, "/") {
			return "", errors.Newf(errors.ErrInvalidOption,
				"link name %q must not be a directory", name)
		}
	default:
		name = display
	}

	dir, file := filepath.Split(name)
	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	if opts.Extension != "" {
		ext = "." + strings.TrimPrefix(opts.Extension, ".")
	}
	return dir + opts.Prefix + stem + opts.Suffix + ext, nil
}

// resolveOwner turns an "user:group" option into numeric ids. An empty
// owner inherits from the deepest existing ancestor directory of the
// link, so links below /root stay owned by root even when uberdot runs
// via sudo.
func resolveOwner(owner, linkName string) (int, int, error) {
	if owner == "" {
		return dirOwner(filepath.Dir(linkName))
	}
	userName, groupName, _ := strings.Cut(owner, ":")

	u, err := user.Lookup(strings.TrimSpace(userName))
	if err != nil {
		return 0, 0, errors.Newf(errors.ErrInvalidOption, "unknown user %q", userName)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, errors.Wrapf(err, errors.ErrInvalidOption, "non-numeric uid for %q", userName)
	}

	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, errors.Wrapf(err, errors.ErrInvalidOption, "non-numeric gid for %q", userName)
	}
	if groupName = strings.TrimSpace(groupName); groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return 0, 0, errors.Newf(errors.ErrInvalidOption, "unknown group %q", groupName)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return 0, 0, errors.Wrapf(err, errors.ErrInvalidOption, "non-numeric gid for group %q", groupName)
		}
	}
	return uid, gid, nil
}

// dirOwner returns the uid/gid of the deepest existing ancestor of dir.
func dirOwner(dir string) (int, int, error) {
	for {
		info, err := os.Stat(dir)
		if err == nil {
			stat, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return 0, 0, errors.Newf(errors.ErrFatal, "cannot stat owner of %s", dir)
			}
			return int(stat.Uid), int(stat.Gid), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return 0, 0, errors.Wrapf(err, errors.ErrFatal, "no existing ancestor for %s", dir)
		}
		dir = parent
	}
}
