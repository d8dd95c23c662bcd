package version

// Build information set by ldflags
var (
	Version = "dev"     // Set by goreleaser: -X github.com/schuerik/uberdot/internal/version.Version={{.Version}}
	Commit  = "unknown" // Set by goreleaser: -X github.com/schuerik/uberdot/internal/version.Commit={{.Commit}}
	Date    = "unknown" // Set by goreleaser: -X github.com/schuerik/uberdot/internal/version.Date={{.Date}}
)

// SchemaVersion gates installed-state files. It only changes when the
// state file format changes, independent of the release version.
const SchemaVersion = "3"

// StateVersion is the "@version" value written to state files:
// "<release>_<schema>". Only the schema suffix matters for reads.
func StateVersion() string {
	return Version + "_" + SchemaVersion
}
