// Package diff computes the operations needed to move the installed
// state to the desired link state of a run, and checks the resulting
// operation list for conflicts before anything touches the filesystem.
package diff

import (
	"fmt"

	"github.com/schuerik/uberdot/pkg/state"
)

// Operation is one atomic change to the installed state and, for link
// operations, to the filesystem.
type Operation interface {
	// Describe returns a one-line human readable summary.
	Describe() string
}

// AddProfile records a profile that was not installed before.
type AddProfile struct {
	Name   string
	Parent string
}

// RemoveProfile drops a profile record entirely.
type RemoveProfile struct {
	Name string
}

// UpdateProfile bumps a profile's updated timestamp after any of its
// links changed.
type UpdateProfile struct {
	Name string
}

// UpdateParent moves a profile below a new parent. An empty NewParent
// makes it a root profile.
type UpdateParent struct {
	Name      string
	NewParent string
}

// AddLink creates a symlink for a profile.
type AddLink struct {
	Profile string
	Link    state.Link
}

// RemoveLink deletes an installed symlink.
type RemoveLink struct {
	Profile string
	Link    state.Link
}

// UpdateLink replaces an installed symlink with a changed one. Old and
// New may differ in symlink path, source or ownership.
type UpdateLink struct {
	Profile string
	Old     state.Link
	New     state.Link
}

func (op AddProfile) Describe() string {
	if op.Parent != "" {
		return fmt.Sprintf("install profile %s as subprofile of %s", op.Name, op.Parent)
	}
	return fmt.Sprintf("install profile %s", op.Name)
}

func (op RemoveProfile) Describe() string {
	return fmt.Sprintf("uninstall profile %s", op.Name)
}

func (op UpdateProfile) Describe() string {
	return fmt.Sprintf("update profile %s", op.Name)
}

func (op UpdateParent) Describe() string {
	if op.NewParent == "" {
		return fmt.Sprintf("make %s a root profile", op.Name)
	}
	return fmt.Sprintf("move profile %s below %s", op.Name, op.NewParent)
}

func (op AddLink) Describe() string {
	return fmt.Sprintf("create link %s -> %s", op.Link.Name, op.Link.Target)
}

func (op RemoveLink) Describe() string {
	return fmt.Sprintf("remove link %s -> %s", op.Link.Name, op.Link.Target)
}

func (op UpdateLink) Describe() string {
	if op.Old.Name != op.New.Name {
		return fmt.Sprintf("move link %s to %s -> %s", op.Old.Name, op.New.Name, op.New.Target)
	}
	return fmt.Sprintf("update link %s -> %s", op.New.Name, op.New.Target)
}

// Log is an ordered list of operations.
type Log struct {
	ops []Operation
}

// Append adds operations in emission order.
func (l *Log) Append(ops ...Operation) {
	l.ops = append(l.ops, ops...)
}

// Operations returns the operations in their current order.
func (l *Log) Operations() []Operation {
	return l.ops
}

// Empty reports whether the log contains no operations.
func (l *Log) Empty() bool {
	return len(l.ops) == 0
}

// Ordering selects how operations are sequenced for execution.
type Ordering int

const (
	// OrderDefault keeps the solver's depth-first, profile-grouped
	// emission order. Readable, but a link moving between profiles in
	// one run is transiently owned by both.
	OrderDefault Ordering = iota

	// OrderDUI sequences deletes, then updates, then inserts across the
	// whole forest, which removes the transient double-ownership.
	OrderDUI
)

// Reorder returns the log's operations in the given ordering. The
// relative order within each category is preserved.
func (l *Log) Reorder(ordering Ordering) []Operation {
	if ordering == OrderDefault {
		return l.ops
	}
	var linkRemoves, profileRemoves, profileUpdates, linkUpdates, profileAdds, linkAdds []Operation
	for _, op := range l.ops {
		switch op.(type) {
		case RemoveLink:
			linkRemoves = append(linkRemoves, op)
		case RemoveProfile:
			profileRemoves = append(profileRemoves, op)
		case UpdateProfile, UpdateParent:
			profileUpdates = append(profileUpdates, op)
		case UpdateLink:
			linkUpdates = append(linkUpdates, op)
		case AddProfile:
			profileAdds = append(profileAdds, op)
		case AddLink:
			linkAdds = append(linkAdds, op)
		}
	}
	ordered := make([]Operation, 0, len(l.ops))
	ordered = append(ordered, linkRemoves...)
	ordered = append(ordered, profileRemoves...)
	ordered = append(ordered, profileUpdates...)
	ordered = append(ordered, linkUpdates...)
	ordered = append(ordered, profileAdds...)
	ordered = append(ordered, linkAdds...)
	return ordered
}

// Apply records the effect of a single operation on a state document.
// The executor calls this after each successful filesystem mutation so
// the persisted state always reflects exactly what was applied.
func Apply(doc state.Document, op Operation) {
	now := state.Now()
	switch op := op.(type) {
	case AddProfile:
		doc[op.Name] = &state.Profile{
			Name:      op.Name,
			Parent:    op.Parent,
			Installed: now,
			Updated:   now,
		}
	case RemoveProfile:
		delete(doc, op.Name)
	case UpdateProfile:
		if p := doc[op.Name]; p != nil {
			p.Updated = now
		}
	case UpdateParent:
		if p := doc[op.Name]; p != nil {
			p.Parent = op.NewParent
			p.Updated = now
		}
	case AddLink:
		if p := doc[op.Profile]; p != nil {
			p.Links = append(p.Links, op.Link)
		}
	case RemoveLink:
		if p := doc[op.Profile]; p != nil {
			for i := range p.Links {
				if p.Links[i].Name == op.Link.Name {
					p.Links = append(p.Links[:i], p.Links[i+1:]...)
					break
				}
			}
		}
	case UpdateLink:
		if p := doc[op.Profile]; p != nil {
			for i := range p.Links {
				if p.Links[i].Name == op.Old.Name {
					p.Links[i] = op.New
					break
				}
			}
		}
	}
}

// linksEqual compares every installed property except the timestamp.
func linksEqual(a, b state.Link) bool {
	return a.Name == b.Name &&
		a.Target == b.Target &&
		a.UID == b.UID &&
		a.GID == b.GID &&
		a.Permission == b.Permission &&
		a.Secure == b.Secure
}

// linksSimilar reports whether two links describe the same logical
// link: same symlink path or same source file. Similar links pair up as
// updates instead of a remove plus an add.
func linksSimilar(a, b state.Link) bool {
	return a.Name == b.Name || a.Target == b.Target
}
