package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waytous/waytous/internal/metadata"
)

// fakeHost answers the host queries and records tool invocations
type fakeHost struct {
	outputs map[string]string
	fail    map[string]error
	calls   [][]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		outputs: map[string]string{
			"lsb_release -c -s": "focal",
			"lsb_release -r -s": "20.04",
			"uname -m":          "x86_64",
			"hostname -s":       "ipc-01",
			"uname -r":          "5.15.0-91-generic",
		},
		fail: map[string]error{},
	}
}

func (f *fakeHost) Run(_ context.Context, program string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{program}, args...))
	key := strings.TrimSpace(program + " " + strings.Join(args, " "))
	if err, ok := f.fail[program]; ok {
		return "", "command failed", err
	}
	return f.outputs[key] + "\n", "", nil
}

// lastCall returns the most recent invocation of program
func (f *fakeHost) lastCall(program string) []string {
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i][0] == program {
			return f.calls[i][1:]
		}
	}
	return nil
}

type cliTest struct {
	t      *testing.T
	dir    string
	root   string
	config string
	host   *fakeHost
}

// newCLITest prepares a working tree, an install root, a config file with
// the given extra YAML and a fake host
func newCLITest(t *testing.T, configYAML string) *cliTest {
	t.Helper()
	base := t.TempDir()
	c := &cliTest{
		t:      t,
		dir:    filepath.Join(base, "work"),
		root:   filepath.Join(base, "modules"),
		config: filepath.Join(base, "waytous.yaml"),
		host:   newFakeHost(),
	}
	require.NoError(t, os.MkdirAll(c.dir, 0o755))

	content := fmt.Sprintf("install_root: %s\n%s", c.root, configYAML)
	require.NoError(t, os.WriteFile(c.config, []byte(content), 0o644))

	origRunner, origInteractive, origNoColor := hostRunner, isInteractive, color.NoColor
	hostRunner = c.host
	isInteractive = func() bool { return false }
	t.Cleanup(func() {
		hostRunner, isInteractive, color.NoColor = origRunner, origInteractive, origNoColor
	})
	return c
}

// run executes the CLI against the test's config and working tree
func (c *cliTest) run(args ...string) (stdout, stderr string, err error) {
	c.t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", c.config, "--no-color", "-C", c.dir}, args...))

	err = execute(cmd)
	return out.String(), errOut.String(), err
}

func (c *cliTest) mustRun(args ...string) string {
	c.t.Helper()
	out, errOut, err := c.run(args...)
	require.NoError(c.t, err, "stderr: %s", errOut)
	return out
}

// installModule writes a plain record file under the install root
func (c *cliTest) installModule(name, content string) {
	c.t.Helper()
	dir := filepath.Join(c.root, name)
	require.NoError(c.t, os.MkdirAll(dir, 0o755))
	if content != "" {
		require.NoError(c.t, os.WriteFile(filepath.Join(dir, "version.toml"), []byte(content), 0o644))
	}
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "waytous", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"version", "completion", "module", "artifact"} {
		assert.Contains(t, names, expected)
	}

	for _, flag := range []string{"config", "verbose", "no-color", "install-root", "dir"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersionCommand(t *testing.T) {
	defer func(v bool) { color.NoColor = v }(color.NoColor)
	Version = "1.0.0-test"
	GitCommit = "abc123"
	BuildDate = "2026-01-01"
	GoVersion = "go1.23"

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--no-color"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "waytous version: 1.0.0-test")
	assert.Contains(t, out.String(), "Git commit: abc123")
}

func TestCompletionCommand(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"completion", "bash"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "waytous")

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"completion", "tcsh"})
	assert.Error(t, cmd.Execute())
}

func TestExecute_PrintsUnreportedErrors(t *testing.T) {
	c := newCLITest(t, "current:\n  backend: toml\n")

	_, stderr, err := c.run("module", "config", "set")
	require.Error(t, err)
	assert.Contains(t, stderr, "Error: no fields given")
}

func TestExecute_DoesNotRepeatReportedErrors(t *testing.T) {
	c := newCLITest(t, "current:\n  backend: toml\n")
	require.NoError(t, os.WriteFile(filepath.Join(c.dir, "version.toml"), []byte("name = [broken"), 0o644))

	_, stderr, err := c.run("module", "config", "get")
	require.Error(t, err)

	var r *reportedError
	assert.True(t, errors.As(err, &r))
	assert.Contains(t, stderr, "METADATA CORRUPT")
	assert.NotContains(t, stderr, "Error:")
}

func TestExecute_InvalidConfig(t *testing.T) {
	c := newCLITest(t, "current:\n  backend: sqlit\n")

	_, stderr, err := c.run("module", "list")
	require.Error(t, err)
	assert.Contains(t, stderr, "CONFIGURATION ERROR")
	assert.Contains(t, stderr, "current.backend")
	assert.Contains(t, stderr, "Did you mean: sqlite?")
	assert.NotContains(t, stderr, "Error:")
}

func TestInstallRootFlagOverridesConfig(t *testing.T) {
	c := newCLITest(t, "")
	other := filepath.Join(t.TempDir(), "elsewhere")
	require.NoError(t, os.MkdirAll(filepath.Join(other, "planner"), 0o755))

	out := c.mustRun("--install-root", other, "module", "list")
	assert.Contains(t, out, "planner")
	assert.Contains(t, out, metadata.Undefined)
}
