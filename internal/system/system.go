// Package system runs external tools and collects host facts.
package system

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external program and returns its captured output
type Runner interface {
	Run(ctx context.Context, program string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs programs with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, program string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		err = fmt.Errorf("%s %s: %w", program, strings.Join(args, " "), err)
	}
	return stdout.String(), stderr.String(), err
}

// Capture runs program and returns its trimmed stdout
func Capture(ctx context.Context, r Runner, program string, args ...string) (string, error) {
	stdout, stderr, err := r.Run(ctx, program, args...)
	if err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout), nil
}

// HostInfo describes the machine the CLI runs on
type HostInfo struct {
	CodeName      string
	Release       string
	Architecture  string
	Hostname      string
	KernelVersion string
}

// DeviceType is the platform label used for artifacts and module records,
// e.g. x86_64-focal
func (h HostInfo) DeviceType() string {
	return h.Architecture + "-" + h.CodeName
}

// Info queries lsb_release, uname and hostname
func Info(ctx context.Context, r Runner) (HostInfo, error) {
	var info HostInfo
	queries := []struct {
		dst     *string
		program string
		args    []string
	}{
		{&info.CodeName, "lsb_release", []string{"-c", "-s"}},
		{&info.Release, "lsb_release", []string{"-r", "-s"}},
		{&info.Architecture, "uname", []string{"-m"}},
		{&info.Hostname, "hostname", []string{"-s"}},
		{&info.KernelVersion, "uname", []string{"-r"}},
	}

	for _, q := range queries {
		out, err := Capture(ctx, r, q.program, q.args...)
		if err != nil {
			return HostInfo{}, fmt.Errorf("failed to read host info: %w", err)
		}
		*q.dst = out
	}
	return info, nil
}
