package main

import (
	stderrors "errors"

	"github.com/charmbracelet/lipgloss"

	"github.com/schuerik/uberdot/pkg/errors"
)

// Styles adapt to light and dark terminals; lipgloss renders plain text
// when stdout is not a terminal.
var (
	styleProfile = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "25", Dark: "39"})
	styleLink = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "35"})
	styleApplied = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "35"})
	stylePlanned = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	styleFailed = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "124", Dark: "196"})
	styleDim = lipgloss.NewStyle().Faint(true)
)

// renderError formats a failing run for stderr, surfacing the rendered
// diff of a divergence error when one is attached.
func renderError(err error) string {
	msg := styleFailed.Render("Error: ") + err.Error()
	var uerr *errors.UberdotError
	if stderrors.As(err, &uerr) {
		if diff, ok := uerr.Details["diff"].(string); ok && diff != "" {
			msg += "\n" + diff
		}
	}
	return msg
}
