package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schuerik/uberdot/pkg/diff"
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/state"
)

type env struct {
	home   string
	files  string
	store  *state.Store
	statef string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tmp := t.TempDir()
	home := filepath.Join(tmp, "home")
	files := filepath.Join(tmp, "files")
	require.NoError(t, os.MkdirAll(home, 0755))
	require.NoError(t, os.MkdirAll(files, 0755))
	statef := filepath.Join(tmp, "data", "sessions", "default.json")
	return &env{home: home, files: files, store: state.NewStore(statef, "bak"), statef: statef}
}

func (e *env) target(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.files, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func link(target, name string) state.Link {
	return state.Link{
		Target:     target,
		Name:       name,
		UID:        os.Getuid(),
		GID:        os.Getgid(),
		Permission: 644,
		Date:       state.Now(),
	}
}

func TestApplyInstall(t *testing.T) {
	e := newEnv(t)
	target := e.target(t, "vimrc", "set nocompatible\n")
	linkName := filepath.Join(e.home, ".vimrc")

	ops := []diff.Operation{
		diff.AddProfile{Name: "vim"},
		diff.AddLink{Profile: "vim", Link: link(target, linkName)},
	}

	exec := New(e.store, state.Document{}, Options{})
	report, err := exec.Apply(ops)
	require.NoError(t, err)
	require.Len(t, report.Entries, 2)
	assert.True(t, report.Entries[0].Applied)
	assert.True(t, report.Entries[1].Applied)

	resolved, err := os.Readlink(linkName)
	require.NoError(t, err)
	assert.Equal(t, target, resolved)

	doc, err := e.store.Load()
	require.NoError(t, err)
	require.Contains(t, doc, "vim")
	require.Len(t, doc["vim"].Links, 1)
	assert.Equal(t, linkName, doc["vim"].Links[0].Name)
}

func TestDryRunTouchesNothing(t *testing.T) {
	e := newEnv(t)
	target := e.target(t, "vimrc", "")
	linkName := filepath.Join(e.home, ".vimrc")

	ops := []diff.Operation{
		diff.AddProfile{Name: "vim"},
		diff.AddLink{Profile: "vim", Link: link(target, linkName)},
	}

	exec := New(e.store, state.Document{}, Options{DryRun: true})
	report, err := exec.Apply(ops)
	require.NoError(t, err)
	require.Len(t, report.Entries, 2)
	assert.False(t, report.Entries[0].Applied)
	assert.False(t, report.Entries[1].Applied)

	_, err = os.Lstat(linkName)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(e.statef)
	assert.True(t, os.IsNotExist(err))
}

func TestMakedirsAndPrune(t *testing.T) {
	e := newEnv(t)
	target := e.target(t, "init.vim", "")
	linkName := filepath.Join(e.home, ".config", "nvim", "init.vim")
	l := link(target, linkName)

	doc := state.Document{}
	exec := New(e.store, doc, Options{Makedirs: true})

	_, err := exec.Apply([]diff.Operation{
		diff.AddProfile{Name: "nvim"},
		diff.AddLink{Profile: "nvim", Link: l},
	})
	require.NoError(t, err)
	_, err = os.Readlink(linkName)
	require.NoError(t, err)

	_, err = exec.Apply([]diff.Operation{
		diff.RemoveLink{Profile: "nvim", Link: l},
		diff.RemoveProfile{Name: "nvim"},
	})
	require.NoError(t, err)

	// The created .config/nvim chain is pruned, home itself survives.
	_, err = os.Stat(filepath.Join(e.home, ".config"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(e.home)
	assert.NoError(t, err)
}

func TestMissingDirectoryWithoutMakedirs(t *testing.T) {
	e := newEnv(t)
	target := e.target(t, "init.vim", "")
	linkName := filepath.Join(e.home, ".config", "nvim", "init.vim")

	exec := New(e.store, state.Document{}, Options{})
	_, err := exec.Apply([]diff.Operation{
		diff.AddLink{Profile: "nvim", Link: link(target, linkName)},
	})
	assert.True(t, errors.IsCode(err, errors.ErrMissingDirectory))
}

func TestUpdateLinkRetargets(t *testing.T) {
	e := newEnv(t)
	oldTarget := e.target(t, "bashrc", "old")
	newTarget := e.target(t, "work%bashrc", "new")
	linkName := filepath.Join(e.home, ".bashrc")
	require.NoError(t, os.Symlink(oldTarget, linkName))

	doc := state.Document{
		"bash": {Name: "bash", Links: []state.Link{link(oldTarget, linkName)}},
	}
	exec := New(e.store, doc, Options{})
	_, err := exec.Apply([]diff.Operation{
		diff.UpdateProfile{Name: "bash"},
		diff.UpdateLink{Profile: "bash", Old: link(oldTarget, linkName), New: link(newTarget, linkName)},
	})
	require.NoError(t, err)

	resolved, err := os.Readlink(linkName)
	require.NoError(t, err)
	assert.Equal(t, newTarget, resolved)
}

func TestFailureAbortsButKeepsAppliedState(t *testing.T) {
	e := newEnv(t)
	target := e.target(t, "vimrc", "")
	good := filepath.Join(e.home, ".vimrc")
	bad := filepath.Join(e.home, "missing", "deep", ".broken")

	exec := New(e.store, state.Document{}, Options{})
	report, err := exec.Apply([]diff.Operation{
		diff.AddProfile{Name: "vim"},
		diff.AddLink{Profile: "vim", Link: link(target, good)},
		diff.AddLink{Profile: "vim", Link: link(target, bad)},
	})
	require.Error(t, err)
	require.Len(t, report.Entries, 3)
	assert.True(t, report.Entries[1].Applied)
	assert.False(t, report.Entries[2].Applied)

	// The successfully created link is recorded in the saved state.
	doc, loadErr := e.store.Load()
	require.NoError(t, loadErr)
	require.Contains(t, doc, "vim")
	require.Len(t, doc["vim"].Links, 1)
	assert.Equal(t, good, doc["vim"].Links[0].Name)
}

func TestRemoveMissingLinkOnlyDropsRecord(t *testing.T) {
	e := newEnv(t)
	linkName := filepath.Join(e.home, ".gone")
	l := link("/files/gone", linkName)

	doc := state.Document{
		"p": {Name: "p", Links: []state.Link{l}},
	}
	exec := New(e.store, doc, Options{})
	_, err := exec.Apply([]diff.Operation{
		diff.RemoveLink{Profile: "p", Link: l},
		diff.RemoveProfile{Name: "p"},
	})
	require.NoError(t, err)

	saved, err := e.store.Load()
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestLinkOwnership(t *testing.T) {
	l := state.Link{UID: 65534, GID: 65534}

	linkUID, linkGID, targetUID, targetGID := linkOwnership(l)
	assert.Equal(t, 65534, linkUID)
	assert.Equal(t, 65534, linkGID)
	assert.Equal(t, os.Getuid(), targetUID)
	assert.Equal(t, os.Getgid(), targetGID)

	l.Secure = true
	linkUID, linkGID, targetUID, targetGID = linkOwnership(l)
	assert.Equal(t, 65534, linkUID)
	assert.Equal(t, 65534, linkGID)
	assert.Equal(t, 65534, targetUID)
	assert.Equal(t, 65534, targetGID)
}

func TestParsePermission(t *testing.T) {
	mode, err := parsePermission(644)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), mode)

	mode, err = parsePermission(600)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), mode)

	_, err = parsePermission(999)
	assert.Error(t, err)
}
