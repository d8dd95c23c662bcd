package dynfile_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schuerik/uberdot/pkg/dynfile"
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*dynfile.Engine, string) {
	t.Helper()
	store := t.TempDir()
	return dynfile.NewEngine(store, "#", "bak"), store
}

func writeSource(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestBuildMergeWritesArtifactAndBackup(t *testing.T) {
	engine, store := newEngine(t)
	a := writeSource(t, "alpha\n")
	b := writeSource(t, "beta\n")

	df, err := engine.Build(context.Background(), dynfile.Merged, "combined",
		[]string{a, b}, dynfile.MergeTransform())
	require.NoError(t, err)

	assert.Equal(t, dynfile.HashContent([]byte("alpha\nbeta\n")), df.Hash)
	assert.Equal(t, filepath.Join(store, "merged", "combined#"+df.Hash), df.Path)

	content, err := os.ReadFile(df.Path)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", string(content))

	backup, err := os.ReadFile(df.BackupPath("bak"))
	require.NoError(t, err)
	assert.Equal(t, content, backup)
}

func TestBuildIsDeterministicAndDeduplicates(t *testing.T) {
	engine, store := newEngine(t)
	src := writeSource(t, "same content\n")

	df1, err := engine.Build(context.Background(), dynfile.Merged, "f",
		[]string{src}, dynfile.MergeTransform())
	require.NoError(t, err)
	df2, err := engine.Build(context.Background(), dynfile.Merged, "f",
		[]string{src}, dynfile.MergeTransform())
	require.NoError(t, err)

	assert.Equal(t, df1.Hash, df2.Hash)
	assert.Equal(t, df1.Path, df2.Path)

	entries, err := os.ReadDir(filepath.Join(store, "merged"))
	require.NoError(t, err)
	// One artifact plus its backup, no duplicates.
	assert.Len(t, entries, 2)
}

func TestBuildMissingSource(t *testing.T) {
	engine, _ := newEngine(t)
	_, err := engine.Build(context.Background(), dynfile.Merged, "f",
		[]string{"/does/not/exist"}, dynfile.MergeTransform())
	require.Error(t, err)
	assert.Equal(t, errors.ErrFileNotFound, errors.Code(err))
}

func TestPipeTransform(t *testing.T) {
	engine, _ := newEngine(t)
	src := writeSource(t, "hello world\n")

	df, err := engine.Build(context.Background(), dynfile.Piped, "upper",
		[]string{src}, dynfile.PipeTransform("tr a-z A-Z", 10*time.Second))
	require.NoError(t, err)

	content, err := os.ReadFile(df.Path)
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD\n", string(content))
}

func TestPipeTransformTimeout(t *testing.T) {
	engine, _ := newEngine(t)
	src := writeSource(t, "x\n")

	_, err := engine.Build(context.Background(), dynfile.Piped, "slow",
		[]string{src}, dynfile.PipeTransform("sleep 5", 100*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, errors.ErrProcessTimeout, errors.Code(err))
}

func TestIsDynamic(t *testing.T) {
	engine, store := newEngine(t)
	assert.True(t, engine.IsDynamic(filepath.Join(store, "merged", "f#abc123")))
	assert.False(t, engine.IsDynamic(filepath.Join(store, "merged", "plainfile")))
	assert.False(t, engine.IsDynamic("/home/user/.vimrc"))
}

func buildDiverged(t *testing.T, engine *dynfile.Engine) *dynfile.Divergence {
	t.Helper()
	src := writeSource(t, "generated\n")
	df, err := engine.Build(context.Background(), dynfile.Merged, "f",
		[]string{src}, dynfile.MergeTransform())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(df.Path, []byte("edited by user\n"), 0644))

	div, err := engine.CheckDivergence(df.Path)
	require.NoError(t, err)
	require.NotNil(t, div)
	return div
}

func TestCheckDivergenceDetectsEdit(t *testing.T) {
	engine, _ := newEngine(t)
	div := buildDiverged(t, engine)

	assert.Equal(t, "f", div.Name)
	assert.NotEqual(t, div.RecordedHash, div.ActualHash)
	assert.Equal(t, "edited by user\n", string(div.Edited))
	assert.Equal(t, "generated\n", string(div.Pristine))
}

func TestCheckDivergenceCleanFile(t *testing.T) {
	engine, _ := newEngine(t)
	src := writeSource(t, "generated\n")
	df, err := engine.Build(context.Background(), dynfile.Merged, "f",
		[]string{src}, dynfile.MergeTransform())
	require.NoError(t, err)

	div, err := engine.CheckDivergence(df.Path)
	require.NoError(t, err)
	assert.Nil(t, div)
}

func TestResolveAbort(t *testing.T) {
	engine, _ := newEngine(t)
	div := buildDiverged(t, engine)

	err := engine.Resolve(div, dynfile.Abort)
	require.Error(t, err)
	assert.Equal(t, errors.ErrDynamicFileDiverged, errors.Code(err))
}

func TestResolveIgnoreProceeds(t *testing.T) {
	engine, _ := newEngine(t)
	div := buildDiverged(t, engine)
	assert.NoError(t, engine.Resolve(div, dynfile.Ignore))
}

func TestResolvePatchWritesDiffFile(t *testing.T) {
	engine, _ := newEngine(t)
	div := buildDiverged(t, engine)

	require.NoError(t, engine.Resolve(div, dynfile.Patch))
	patch, err := os.ReadFile(div.Path + ".patch")
	require.NoError(t, err)
	assert.Contains(t, string(patch), "-generated")
	assert.Contains(t, string(patch), "+edited by user")
}

func TestResolveUndoRestoresPristine(t *testing.T) {
	engine, _ := newEngine(t)
	div := buildDiverged(t, engine)

	require.NoError(t, engine.Resolve(div, dynfile.Undo))
	content, err := os.ReadFile(div.Path)
	require.NoError(t, err)
	assert.Equal(t, "generated\n", string(content))
}

func TestUnifiedDiff(t *testing.T) {
	diff := string(dynfile.UnifiedDiff(
		[]byte("one\ntwo\nthree\n"),
		[]byte("one\t\ntwo\nthree\n"),
		"f"))
	assert.True(t, strings.HasPrefix(diff, "--- f (generated)\n+++ f (edited)\n"))
	assert.Contains(t, diff, "-one\n")
	assert.Contains(t, diff, "+one\t\n")
	assert.Contains(t, diff, " two\n")
}
