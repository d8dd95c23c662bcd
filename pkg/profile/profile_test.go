package profile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schuerik/uberdot/pkg/config"
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/paths"
)

type fixture struct {
	interp  *Interpreter
	home    string
	files   string
	scripts string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	files := filepath.Join(tmp, "files")
	scripts := filepath.Join(tmp, "profiles")
	home := filepath.Join(tmp, "home")
	for _, dir := range []string{files, scripts, home} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}
	t.Setenv(paths.EnvDataDir, filepath.Join(tmp, "data"))
	t.Setenv(paths.EnvTargetFiles, files)
	t.Setenv(paths.EnvProfileFiles, scripts)

	p, err := paths.New(files, scripts)
	require.NoError(t, err)

	cfg := &config.Config{
		Settings: config.Settings{
			TagSeparator:    "%",
			HashSeparator:   "#",
			BackupExtension: "bak",
			ShellTimeout:    5,
		},
		Defaults: config.Defaults{
			Directory:  home,
			Permission: 644,
		},
	}
	return &fixture{interp: New(p, cfg), home: home, files: files, scripts: scripts}
}

func (f *fixture) addFile(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.files, name), []byte(content), 0644))
}

func (f *fixture) addScript(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.scripts, name+".star"), []byte(content), 0644))
}

func (f *fixture) run(t *testing.T, name string) (*Profile, error) {
	t.Helper()
	opts := OptionsFromDefaults(f.interp.config.Defaults)
	return f.interp.Execute(context.Background(), name, opts, f.home)
}

func TestLinkBasic(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "vimrc", "set nocompatible\n")
	f.addScript(t, "vim", `link("vimrc")`)

	prof, err := f.run(t, "vim")
	require.NoError(t, err)
	require.Len(t, prof.Links, 1)
	assert.Equal(t, filepath.Join(f.home, "vimrc"), prof.Links[0].Name)
	assert.Equal(t, filepath.Join(f.files, "vimrc"), prof.Links[0].Target)
	assert.Equal(t, 644, prof.Links[0].Permission)
	assert.False(t, prof.Links[0].Secure)
}

func TestLinkNamingOptions(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "vimrc", "")
	f.addFile(t, "profile.sh", "")

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"explicit name", `link("vimrc", name=".vimrc")`, ".vimrc"},
		{"prefix", `link("vimrc", prefix=".")`, ".vimrc"},
		{"prefix and suffix", `link("vimrc", prefix=".", suffix="-local")`, ".vimrc-local"},
		{"suffix before extension", `link("profile.sh", suffix="-work")`, "profile-work.sh"},
		{"extension swap", `link("profile.sh", extension="zsh")`, "profile.zsh"},
		{"replace", `link("vimrc", replace="_vimrc", replace_pattern="vimrc")`, "_vimrc"},
		{"name in subdirectory", `link("vimrc", name=".config/nvim/init.vim")`, ".config/nvim/init.vim"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profName := "p" + string(rune('a'+i))
			f.addScript(t, profName, tt.script)
			prof, err := f.run(t, profName)
			require.NoError(t, err)
			require.Len(t, prof.Links, 1)
			assert.Equal(t, filepath.Join(f.home, tt.want), prof.Links[0].Name)
		})
	}
}

func TestReplaceWithoutPatternFails(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "vimrc", "")
	f.addScript(t, "vim", `link("vimrc", replace="_vimrc")`)

	_, err := f.run(t, "vim")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidOption))
}

func TestCdChangesLinkDirectory(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "vimrc", "")
	f.addScript(t, "vim", "cd(\".config\")\nlink(\"vimrc\")")

	prof, err := f.run(t, "vim")
	require.NoError(t, err)
	require.Len(t, prof.Links, 1)
	assert.Equal(t, filepath.Join(f.home, ".config", "vimrc"), prof.Links[0].Name)
}

func TestTagResolution(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "bashrc", "plain")
	f.addFile(t, "work%bashrc", "work")
	f.addScript(t, "plain", `link("bashrc")`)
	f.addScript(t, "work", "tags(\"work\")\nlink(\"bashrc\")")

	prof, err := f.run(t, "plain")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.files, "bashrc"), prof.Links[0].Target)

	prof, err = f.run(t, "work")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.files, "work%bashrc"), prof.Links[0].Target)
	// The tag never leaks into the link name.
	assert.Equal(t, filepath.Join(f.home, "bashrc"), prof.Links[0].Name)
}

func TestHasTagBranching(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "vimrc", "")
	f.addScript(t, "vim", strings.Join([]string{
		`tags("desktop")`,
		`rmtags("desktop")`,
		`if has_tag("desktop"):`,
		`    link("vimrc", prefix=".")`,
		`else:`,
		`    link("vimrc")`,
	}, "\n"))

	prof, err := f.run(t, "vim")
	require.NoError(t, err)
	require.Len(t, prof.Links, 1)
	assert.Equal(t, filepath.Join(f.home, "vimrc"), prof.Links[0].Name)
}

func TestOptPersistsAndDefaultResets(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "vimrc", "")
	f.addFile(t, "bashrc", "")
	f.addScript(t, "shell", strings.Join([]string{
		`opt(prefix=".")`,
		`link("vimrc")`,
		`default("prefix")`,
		`link("bashrc")`,
	}, "\n"))

	prof, err := f.run(t, "shell")
	require.NoError(t, err)
	require.Len(t, prof.Links, 2)
	assert.Equal(t, filepath.Join(f.home, ".vimrc"), prof.Links[0].Name)
	assert.Equal(t, filepath.Join(f.home, "bashrc"), prof.Links[1].Name)
}

func TestUnknownOptionFails(t *testing.T) {
	f := newFixture(t)
	f.addScript(t, "bad", `opt(bogus=1)`)

	_, err := f.run(t, "bad")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidOption))
}

func TestLinksPattern(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "config.fish", "")
	f.addFile(t, "functions.fish", "")
	f.addFile(t, "vimrc", "")
	f.addScript(t, "fish", `links(".*\\.fish")`)

	prof, err := f.run(t, "fish")
	require.NoError(t, err)
	require.Len(t, prof.Links, 2)
	names := []string{prof.Links[0].Name, prof.Links[1].Name}
	assert.Contains(t, names, filepath.Join(f.home, "config.fish"))
	assert.Contains(t, names, filepath.Join(f.home, "functions.fish"))
}

func TestLinksRejectsNameOption(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "config.fish", "")
	f.addScript(t, "fish", `links(".*\\.fish", name="nope")`)

	_, err := f.run(t, "fish")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidOption))
}

func TestMissingTarget(t *testing.T) {
	f := newFixture(t)
	f.addScript(t, "strict", `link("nosuch")`)
	f.addScript(t, "lax", `link("nosuch", optional=True)`)

	_, err := f.run(t, "strict")
	assert.True(t, errors.IsCode(err, errors.ErrFileNotFound))

	prof, err := f.run(t, "lax")
	require.NoError(t, err)
	assert.Empty(t, prof.Links)
}

func TestExtlink(t *testing.T) {
	f := newFixture(t)
	external := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(external, []byte("127.0.0.1 localhost\n"), 0644))
	f.addScript(t, "ext", `extlink("`+external+`", name="my-hosts")`)

	prof, err := f.run(t, "ext")
	require.NoError(t, err)
	require.Len(t, prof.Links, 1)
	assert.Equal(t, external, prof.Links[0].Target)
	assert.Equal(t, filepath.Join(f.home, "my-hosts"), prof.Links[0].Name)
}

func TestExtlinkMissingOptional(t *testing.T) {
	f := newFixture(t)
	f.addScript(t, "ext", `extlink("/nonexistent/path", optional=True)`)

	prof, err := f.run(t, "ext")
	require.NoError(t, err)
	assert.Empty(t, prof.Links)
}

func TestMergeProducesDynamicFile(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "base.vim", "set number\n")
	f.addFile(t, "extra.vim", "set list\n")
	f.addScript(t, "vim", strings.Join([]string{
		`f = merge("vimrc", ["base.vim", "extra.vim"])`,
		`link(f)`,
	}, "\n"))

	prof, err := f.run(t, "vim")
	require.NoError(t, err)
	require.Len(t, prof.Links, 1)
	assert.Equal(t, filepath.Join(f.home, "vimrc"), prof.Links[0].Name)
	assert.Contains(t, prof.Links[0].Target, "#")

	content, err := os.ReadFile(prof.Links[0].Target)
	require.NoError(t, err)
	assert.Equal(t, "set number\nset list\n", string(content))
}

func TestMergeNeedsTwoTargets(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "base.vim", "")
	f.addScript(t, "vim", `merge("vimrc", ["base.vim"])`)

	_, err := f.run(t, "vim")
	assert.True(t, errors.IsCode(err, errors.ErrInvalidOption))
}

func TestPipeTransformsContent(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "motd", "hello\n")
	f.addScript(t, "motd", strings.Join([]string{
		`f = pipe("motd", "tr a-z A-Z")`,
		`link(f)`,
	}, "\n"))

	prof, err := f.run(t, "motd")
	require.NoError(t, err)
	require.Len(t, prof.Links, 1)
	content, err := os.ReadFile(prof.Links[0].Target)
	require.NoError(t, err)
	assert.Equal(t, "HELLO\n", string(content))
}

func TestSubprofileInheritsContext(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "vimrc", "")
	f.addScript(t, "parent", strings.Join([]string{
		`cd("nested")`,
		`opt(prefix=".")`,
		`subprof("child")`,
	}, "\n"))
	f.addScript(t, "child", `link("vimrc")`)

	prof, err := f.run(t, "parent")
	require.NoError(t, err)
	require.Len(t, prof.Subprofiles, 1)
	child := prof.Subprofiles[0]
	assert.Equal(t, "child", child.Name)
	require.Len(t, child.Links, 1)
	assert.Equal(t, filepath.Join(f.home, "nested", ".vimrc"), child.Links[0].Name)
	assert.Equal(t, []string{"parent", "child"}, prof.AllNames())
}

func TestSubprofileCycle(t *testing.T) {
	f := newFixture(t)
	f.addScript(t, "a", `subprof("b")`)
	f.addScript(t, "b", `subprof("a")`)

	_, err := f.run(t, "a")
	assert.True(t, errors.IsCode(err, errors.ErrProfileCycle))
}

func TestProfileGeneratedTwice(t *testing.T) {
	f := newFixture(t)
	f.addScript(t, "root", "subprof(\"leaf\")\nsubprof(\"leaf\")")
	f.addScript(t, "leaf", ``)

	_, err := f.run(t, "root")
	assert.True(t, errors.IsCode(err, errors.ErrGeneration))
}

func TestMissingProfile(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "ghost")
	assert.True(t, errors.IsCode(err, errors.ErrProfileNotFound))
}

func TestScriptErrorIsGenerationError(t *testing.T) {
	f := newFixture(t)
	f.addScript(t, "broken", `undefined_function()`)

	_, err := f.run(t, "broken")
	assert.True(t, errors.IsCode(err, errors.ErrGeneration))
}

func TestInfoModule(t *testing.T) {
	f := newFixture(t)
	f.addFile(t, "vimrc", "")
	f.addScript(t, "vim", strings.Join([]string{
		`if info.username() != "":`,
		`    link("vimrc", suffix="-" + info.hostname())`,
	}, "\n"))

	prof, err := f.run(t, "vim")
	require.NoError(t, err)
	require.Len(t, prof.Links, 1)
	assert.Contains(t, prof.Links[0].Name, "vimrc-")
}
