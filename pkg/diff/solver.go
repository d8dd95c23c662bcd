package diff

import (
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/logging"
	"github.com/schuerik/uberdot/pkg/profile"
	"github.com/schuerik/uberdot/pkg/state"
)

// InstallOptions tune how an install run is solved. Parent installs the
// run's root profiles below an already installed profile; ParentSet
// distinguishes an explicit empty Parent (demote to root) from the flag
// being absent.
type InstallOptions struct {
	Parent    string
	ParentSet bool
}

// InstallSolver diffs a desired profile forest against the installed
// state.
type InstallSolver struct {
	installed state.Document
	desired   []*profile.Profile
	opts      InstallOptions

	// every profile name generated in this run; a subprofile moving to
	// another parent within the run must not be uninstalled as orphan
	inRun map[string]bool
}

// NewInstallSolver creates a solver for an install or update run.
func NewInstallSolver(installed state.Document, desired []*profile.Profile, opts InstallOptions) *InstallSolver {
	inRun := make(map[string]bool)
	for _, p := range desired {
		for _, name := range p.AllNames() {
			inRun[name] = true
		}
	}
	return &InstallSolver{installed: installed, desired: desired, opts: opts, inRun: inRun}
}

// Solve produces the operation log. Parent conflicts are detected here;
// all other conflict classes are the Checker's job.
func (s *InstallSolver) Solve() (*Log, error) {
	log := &Log{}
	for _, p := range s.desired {
		if err := s.solveProfile(log, p, s.opts.Parent, p.Name); err != nil {
			return nil, err
		}
	}
	return log, nil
}

func (s *InstallSolver) solveProfile(log *Log, p *profile.Profile, parent, root string) error {
	desired := make([]state.Link, len(p.Links))
	for i, spec := range p.Links {
		desired[i] = specToLink(spec)
	}

	inst := s.installed[p.Name]
	if inst == nil {
		log.Append(AddProfile{Name: p.Name, Parent: parent})
		for _, link := range desired {
			log.Append(AddLink{Profile: p.Name, Link: link})
		}
	} else {
		parentChanged := inst.Parent != parent
		if parentChanged {
			if err := s.checkParentChange(p.Name, inst.Parent, parent, root); err != nil {
				return err
			}
		}

		removes, updates, adds := diffLinks(p.Name, inst.Links, desired)

		// Installed subprofiles that the script no longer declares are
		// uninstalled with it, unless they moved elsewhere in this run.
		declared := make(map[string]bool, len(p.Subprofiles))
		for _, sub := range p.Subprofiles {
			declared[sub.Name] = true
		}
		orphans := &Log{}
		for _, child := range s.installed.Subprofiles(p.Name) {
			if !declared[child] && !s.inRun[child] {
				removeProfileTree(orphans, s.installed, child)
			}
		}

		if parentChanged || len(removes)+len(updates)+len(adds) > 0 || !orphans.Empty() {
			log.Append(UpdateProfile{Name: p.Name})
		}
		if parentChanged {
			log.Append(UpdateParent{Name: p.Name, NewParent: parent})
		}
		log.Append(removes...)
		log.Append(updates...)
		log.Append(adds...)
		log.Append(orphans.Operations()...)
	}

	for _, sub := range p.Subprofiles {
		if err := s.solveProfile(log, sub, p.Name, root); err != nil {
			return err
		}
	}
	return nil
}

// checkParentChange decides whether a profile may move below a new
// parent. Moves within the same root tree are fine, as is an explicit
// --parent request for this run's root profiles. Everything else needs
// an uninstall first.
func (s *InstallSolver) checkParentChange(name, oldParent, newParent, root string) error {
	if s.opts.ParentSet && newParent == s.opts.Parent {
		return nil
	}
	if rootOf(s.installed, name) == root {
		return nil
	}
	oldDesc := oldParent
	if oldDesc == "" {
		oldDesc = "no parent"
	}
	return errors.Newf(errors.ErrParentConflict,
		"profile %q is already installed below %s and this run wants it below %q; "+
			"uninstall %q first or rerun with an explicit parent",
		name, quoteParent(oldDesc, oldParent), newParent, name)
}

func quoteParent(desc, parent string) string {
	if parent == "" {
		return desc
	}
	return "\"" + parent + "\""
}

// rootOf follows the installed parent chain up to the root profile.
func rootOf(doc state.Document, name string) string {
	for {
		p := doc[name]
		if p == nil || p.Parent == "" {
			return name
		}
		name = p.Parent
	}
}

// diffLinks pairs installed and desired links of one profile. A desired
// link pairs with an installed one sharing the symlink path, or failing
// that the source file, and becomes an update when any property
// differs. Unpaired installed links are removed, unpaired desired links
// added.
func diffLinks(profileName string, installed, desired []state.Link) (removes, updates, adds []Operation) {
	matched := make([]bool, len(installed))

	pair := func(want state.Link) int {
		for i, have := range installed {
			if !matched[i] && have.Name == want.Name {
				return i
			}
		}
		for i, have := range installed {
			if !matched[i] && linksSimilar(have, want) {
				return i
			}
		}
		return -1
	}

	for _, want := range desired {
		i := pair(want)
		if i < 0 {
			adds = append(adds, AddLink{Profile: profileName, Link: want})
			continue
		}
		matched[i] = true
		if !linksEqual(installed[i], want) {
			updates = append(updates, UpdateLink{Profile: profileName, Old: installed[i], New: want})
		}
	}
	for i, have := range installed {
		if !matched[i] {
			removes = append(removes, RemoveLink{Profile: profileName, Link: have})
		}
	}
	return removes, updates, adds
}

// UninstallSolver produces the operations removing installed profiles
// and all their subprofiles.
type UninstallSolver struct {
	installed state.Document
	names     []string
}

// NewUninstallSolver creates a solver for an uninstall run.
func NewUninstallSolver(installed state.Document, names []string) *UninstallSolver {
	return &UninstallSolver{installed: installed, names: names}
}

// Solve cascades over subprofiles, removing children before their
// parent. Requesting a profile that is not installed is not an error.
func (s *UninstallSolver) Solve() (*Log, error) {
	logger := logging.GetLogger("diff")
	log := &Log{}
	for _, name := range s.names {
		if s.installed[name] == nil {
			logger.Warn().Str("profile", name).Msg("Profile is not installed, nothing to uninstall")
			continue
		}
		removeProfileTree(log, s.installed, name)
	}
	return log, nil
}

// removeProfileTree emits the removal of a profile, its links and,
// first, all its installed subprofiles.
func removeProfileTree(log *Log, doc state.Document, name string) {
	for _, child := range doc.Subprofiles(name) {
		removeProfileTree(log, doc, child)
	}
	p := doc[name]
	for _, link := range p.Links {
		log.Append(RemoveLink{Profile: name, Link: link})
	}
	log.Append(RemoveProfile{Name: name})
}

// specToLink converts an interpreter link spec into an installed-state
// record stamped with the current time.
func specToLink(spec profile.LinkSpec) state.Link {
	return state.Link{
		Target:     spec.Target,
		Name:       spec.Name,
		UID:        spec.UID,
		GID:        spec.GID,
		Permission: spec.Permission,
		Secure:     spec.Secure,
		Date:       state.Now(),
	}
}
