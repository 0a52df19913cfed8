// Package artifact builds OTA artifacts with the mender-artifact tool.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/waytous/waytous/internal/system"
)

// DefaultTool is the artifact packaging program
const DefaultTool = "mender-artifact"

var (
	// ValidTypes are the supported module payload types
	ValidTypes = []string{"deb", "run"}
	// ValidModes are the supported build modes
	ValidModes = []string{"release", "debug"}
)

// ModuleImage describes a module-image artifact to write
type ModuleImage struct {
	Type            string
	Name            string
	SoftwareVersion string
	Mode            string
	DeviceType      string
	Files           []string
}

// FileName is the artifact output name, <name>-<version>.mender
func (m ModuleImage) FileName() string {
	return fmt.Sprintf("%s-%s.mender", m.Name, m.SoftwareVersion)
}

// Validate checks the options before the tool is invoked
func (m ModuleImage) Validate() error {
	var errs []error
	if !contains(ValidTypes, m.Type) {
		errs = append(errs, fmt.Errorf("type must be one of %s, got %q", strings.Join(ValidTypes, ", "), m.Type))
	}
	if m.Mode != "" && !contains(ValidModes, m.Mode) {
		errs = append(errs, fmt.Errorf("mode must be one of %s, got %q", strings.Join(ValidModes, ", "), m.Mode))
	}
	if m.Name == "" {
		errs = append(errs, errors.New("artifact name is required"))
	}
	if m.SoftwareVersion == "" {
		errs = append(errs, errors.New("software version is required"))
	}
	if m.DeviceType == "" {
		errs = append(errs, errors.New("device type is required"))
	}
	if len(m.Files) == 0 {
		errs = append(errs, errors.New("at least one file is required"))
	}
	return errors.Join(errs...)
}

// Args assembles the mender-artifact command line
func (m ModuleImage) Args() []string {
	args := []string{
		"write", "module-image",
		"-T", m.Type,
		"-n", m.Name,
		"-o", m.FileName(),
		"--device-type", m.DeviceType,
		"--software-version", m.SoftwareVersion,
	}
	for _, f := range m.Files {
		args = append(args, "-f", f)
	}
	return args
}

// Builder invokes the packaging tool
type Builder struct {
	Tool   string
	Runner system.Runner
}

// NewBuilder creates a Builder running tool through r
func NewBuilder(tool string, r system.Runner) *Builder {
	if tool == "" {
		tool = DefaultTool
	}
	if r == nil {
		r = system.ExecRunner{}
	}
	return &Builder{Tool: tool, Runner: r}
}

// WriteModuleImage writes the artifact and returns its file name
func (b *Builder) WriteModuleImage(ctx context.Context, m ModuleImage) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if _, err := system.Capture(ctx, b.Runner, b.Tool, m.Args()...); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", m.Name, err)
	}
	return m.FileName(), nil
}

// Read returns the tool's description of an artifact file
func (b *Builder) Read(ctx context.Context, file string) (string, error) {
	out, err := system.Capture(ctx, b.Runner, b.Tool, "read", file)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact %s: %w", file, err)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
