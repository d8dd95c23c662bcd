// Package profile executes profile scripts. A profile is a Starlark
// script whose commands (cd, link, links, extlink, opt, tags, subprof,
// decrypt, merge, pipe, ...) mutate a per-profile execution context and
// emit the desired link state.
package profile

import (
	"context"

	"github.com/schuerik/uberdot/pkg/config"
)

// LinkSpec is one desired symlink: a resolved source, the symlink path
// and the ownership and permission applied to the target content.
type LinkSpec struct {
	Target     string
	Name       string
	UID        int
	GID        int
	Permission int
	Secure     bool
}

// Profile is the result of executing one profile script, forming a tree
// with its subprofiles.
type Profile struct {
	Name        string
	Links       []LinkSpec
	Subprofiles []*Profile
}

// AllNames returns the names of the profile and every transitive
// subprofile.
func (p *Profile) AllNames() []string {
	names := []string{p.Name}
	for _, sub := range p.Subprofiles {
		names = append(names, sub.AllNames()...)
	}
	return names
}

// Options is the persistent option set of an execution context. It is
// copied by value into subprofile contexts at spawn time; later mutation
// of the parent never reaches an already-spawned child.
type Options struct {
	Name           string
	Owner          string
	Prefix         string
	Suffix         string
	Extension      string
	Replace        string
	ReplacePattern string
	Permission     int
	Optional       bool
	Secure         bool
	Tags           []string
}

// Clone returns a deep copy, detaching the tag slice.
func (o Options) Clone() Options {
	clone := o
	clone.Tags = append([]string(nil), o.Tags...)
	return clone
}

// OptionsFromDefaults builds the root option set from configuration.
func OptionsFromDefaults(d config.Defaults) Options {
	return Options{
		Name:           d.Name,
		Owner:          d.Owner,
		Prefix:         d.Prefix,
		Suffix:         d.Suffix,
		Extension:      d.Extension,
		Replace:        d.Replace,
		ReplacePattern: d.ReplacePattern,
		Permission:     d.Permission,
		Optional:       d.Optional,
		Secure:         d.Secure,
		Tags:           append([]string(nil), d.Tags...),
	}
}

// HasTag reports whether a tag is currently set.
func (o Options) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTags appends tags that are not yet present, preserving priority
// order of earlier additions.
func (o *Options) AddTags(tags ...string) {
	for _, tag := range tags {
		if !o.HasTag(tag) {
			o.Tags = append(o.Tags, tag)
		}
	}
}

// RemoveTags removes the given tags if present.
func (o *Options) RemoveTags(tags ...string) {
	for _, tag := range tags {
		for i, t := range o.Tags {
			if t == tag {
				o.Tags = append(o.Tags[:i], o.Tags[i+1:]...)
				break
			}
		}
	}
}

// Context is the mutable execution state of one running profile script.
type Context struct {
	name      string
	directory string
	options   Options
	parent    *Context
	result    *Profile

	interp *Interpreter
	goCtx  context.Context
}

// inParentChain reports whether name matches this profile or any
// ancestor, which would make a subprof call recursive.
func (c *Context) inParentChain(name string) bool {
	for cur := c; cur != nil; cur = cur.parent {
		if cur.name == name {
			return true
		}
	}
	return false
}
