package state

import (
	"os"
	"path/filepath"

	"github.com/schuerik/uberdot/pkg/logging"
)

// BrokenLink is an installed link whose on-disk situation no longer
// matches its record: removed by hand, replaced with a real file,
// retargeted, or pointing at a source that disappeared.
type BrokenLink struct {
	Profile string
	Link    Link
	Problem string
}

// CheckLinks verifies every recorded link against the real filesystem.
// It never mutates anything; the findings are for display so the user
// can reconcile with a forced reinstall or a manual fix.
func CheckLinks(doc Document) []BrokenLink {
	logger := logging.GetLogger("state")
	var broken []BrokenLink

	report := func(profile string, link Link, problem string) {
		logger.Debug().Str("profile", profile).Str("link", link.Name).
			Str("problem", problem).Msg("Recorded link is broken")
		broken = append(broken, BrokenLink{Profile: profile, Link: link, Problem: problem})
	}

	for profileName, p := range doc {
		for _, link := range p.Links {
			info, err := os.Lstat(link.Name)
			if err != nil {
				report(profileName, link, "link was removed")
				continue
			}
			if info.Mode()&os.ModeSymlink == 0 {
				report(profileName, link, "replaced by a regular file")
				continue
			}
			dest, err := os.Readlink(link.Name)
			if err != nil {
				report(profileName, link, "link is unreadable")
				continue
			}
			if !filepath.IsAbs(dest) {
				dest = filepath.Join(filepath.Dir(link.Name), dest)
			}
			if filepath.Clean(dest) != filepath.Clean(link.Target) {
				report(profileName, link, "points to "+dest+" instead of its recorded source")
				continue
			}
			if _, err := os.Stat(link.Target); err != nil {
				report(profileName, link, "source file is missing")
			}
		}
	}
	return broken
}
