package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schuerik/uberdot/pkg/state"
)

func newShowCmd() *cobra.Command {
	var meta bool
	cmd := &cobra.Command{
		Use:   "show [PROFILE...]",
		Short: "Show the installed profiles and their links",
		Long: `Prints the installed state of the current session: every profile, its
subprofiles and the symlinks they own. With profile names given, only
those trees are shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setupRun()
			if err != nil {
				return err
			}
			defer env.close()

			roots := selectRoots(env.doc, args)
			if len(roots) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), styleDim.Render("No profiles installed"))
				return nil
			}
			for _, name := range roots {
				printProfile(cmd.OutOrStdout(), env.doc, name, 0, meta)
			}
			for _, broken := range state.CheckLinks(env.doc) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n",
					styleFailed.Render("!"), broken.Link.Name, broken.Problem)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&meta, "meta", false,
		"Also show link ownership, permission and timestamps")
	return cmd
}

// selectRoots returns the requested profile names, or all installed
// root profiles when none are given.
func selectRoots(doc state.Document, requested []string) []string {
	if len(requested) > 0 {
		var names []string
		for _, name := range requested {
			if doc[name] != nil {
				names = append(names, name)
			}
		}
		return names
	}
	var roots []string
	for name, p := range doc {
		if p.Parent == "" {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)
	return roots
}

func printProfile(w io.Writer, doc state.Document, name string, depth int, meta bool) {
	p := doc[name]
	if p == nil {
		return
	}
	indent := strings.Repeat("    ", depth)

	header := styleProfile.Render(p.Name)
	if meta {
		header += styleDim.Render(fmt.Sprintf("  (installed %s, updated %s)", p.Installed, p.Updated))
	}
	fmt.Fprintf(w, "%s%s\n", indent, header)

	for _, link := range p.Links {
		line := fmt.Sprintf("%s  %s %s %s", indent,
			styleLink.Render(link.Name), styleDim.Render("->"), link.Target)
		if meta {
			line += styleDim.Render(fmt.Sprintf("  [%d:%d %d secure=%t %s]",
				link.UID, link.GID, link.Permission, link.Secure, link.Date))
		}
		fmt.Fprintln(w, line)
	}
	for _, child := range doc.Subprofiles(name) {
		printProfile(w, doc, child, depth+1, meta)
	}
}
