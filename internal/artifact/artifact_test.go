package artifact

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	program string
	args    []string
	stdout  string
	err     error
}

func (r *recordingRunner) Run(_ context.Context, program string, args ...string) (string, string, error) {
	r.program = program
	r.args = args
	if r.err != nil {
		return "", "invalid artifact", r.err
	}
	return r.stdout, "", nil
}

func validImage() ModuleImage {
	return ModuleImage{
		Type:            "deb",
		Name:            "ht-truck",
		SoftwareVersion: "1.0.0",
		Mode:            "release",
		DeviceType:      "x86_64-focal",
		Files:           []string{"lidar.deb", "radar.deb"},
	}
}

func TestModuleImage_Args(t *testing.T) {
	m := validImage()

	assert.Equal(t, "ht-truck-1.0.0.mender", m.FileName())
	assert.Equal(t, []string{
		"write", "module-image",
		"-T", "deb",
		"-n", "ht-truck",
		"-o", "ht-truck-1.0.0.mender",
		"--device-type", "x86_64-focal",
		"--software-version", "1.0.0",
		"-f", "lidar.deb",
		"-f", "radar.deb",
	}, m.Args())
}

func TestModuleImage_Validate(t *testing.T) {
	require.NoError(t, validImage().Validate())

	m := validImage()
	m.Type = "zip"
	m.Mode = "profile"
	m.Files = nil
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "type must be one of deb, run")
	assert.Contains(t, err.Error(), "mode must be one of release, debug")
	assert.Contains(t, err.Error(), "at least one file")
}

func TestBuilder_WriteModuleImage(t *testing.T) {
	r := &recordingRunner{}
	b := NewBuilder("", r)

	name, err := b.WriteModuleImage(context.Background(), validImage())
	require.NoError(t, err)
	assert.Equal(t, "ht-truck-1.0.0.mender", name)
	assert.Equal(t, DefaultTool, r.program)
	assert.Equal(t, "module-image", r.args[1])
}

func TestBuilder_WriteModuleImageFailure(t *testing.T) {
	r := &recordingRunner{err: errors.New("exit status 1")}

	_, err := NewBuilder("", r).WriteModuleImage(context.Background(), validImage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid artifact")
}

func TestBuilder_InvalidImageNeverRunsTool(t *testing.T) {
	r := &recordingRunner{}
	m := validImage()
	m.Name = ""

	_, err := NewBuilder("", r).WriteModuleImage(context.Background(), m)
	assert.Error(t, err)
	assert.Empty(t, r.program)
}

func TestBuilder_Read(t *testing.T) {
	r := &recordingRunner{stdout: "Mender artifact:\n  Name: ht-truck\n"}

	out, err := NewBuilder("/usr/bin/mender-artifact", r).Read(context.Background(), "ht-truck-1.0.0.mender")
	require.NoError(t, err)
	assert.Contains(t, out, "Name: ht-truck")
	assert.Equal(t, "/usr/bin/mender-artifact", r.program)
	assert.Equal(t, []string{"read", "ht-truck-1.0.0.mender"}, r.args)
}
