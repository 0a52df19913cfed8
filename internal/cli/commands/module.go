package commands

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waytous/waytous/internal/cli/ui"
	"github.com/waytous/waytous/internal/envelope/keyprovider"
	"github.com/waytous/waytous/internal/metadata"
	"github.com/waytous/waytous/internal/query"
	"github.com/waytous/waytous/internal/system"
)

//go:embed templates
var templatesFS embed.FS

const demoTemplateDir = "templates/demo"

var moduleNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateModuleName validates a module name before it becomes a directory
func validateModuleName(name string) error {
	name = strings.TrimSpace(name)

	if len(name) == 0 || len(name) > 100 {
		return fmt.Errorf("module name must be 1-100 characters")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("module name cannot be an absolute path")
	}
	// Dots are rejected, so ".." cannot escape the working directory
	if !moduleNamePattern.MatchString(name) {
		return fmt.Errorf("module name can only contain letters, numbers, dashes, and underscores")
	}
	return nil
}

// NewModuleCommand creates the module command
func NewModuleCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "module",
		Short: "Create modules and manage their metadata",
		Long: `Create modules and manage their metadata.

The current module is the one whose working tree is the current directory
(or --dir). Installed modules live under install_root, one directory each.`,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Set or show the current module's metadata",
	}
	configCmd.AddCommand(newModuleConfigSetCommand(opts))
	configCmd.AddCommand(newModuleConfigGetCommand(opts))

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Show information about a module",
	}
	getCmd.AddCommand(newModuleGetInfoCommand(opts))

	cmd.AddCommand(newModuleCreateCommand(opts))
	cmd.AddCommand(configCmd)
	cmd.AddCommand(getCmd)
	cmd.AddCommand(newModuleListCommand(opts))
	cmd.AddCommand(newModuleKeygenCommand(opts))

	return cmd
}

func newModuleCreateCommand(opts *globalOptions) *cobra.Command {
	var (
		name   string
		noDemo bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a module's directory structure",
		Long: `Create a module directory in the working directory and seed its
metadata with the module name and this host's platform.

Example:
  waytous module create --name lidar-driver`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModuleCreate(cmd, opts, name, noDemo)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "module name")
	cmd.Flags().BoolVar(&noDemo, "no-demo", false, "do not copy the demo project into the module")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runModuleCreate(cmd *cobra.Command, opts *globalOptions, name string, noDemo bool) error {
	if err := validateModuleName(name); err != nil {
		return err
	}
	name = strings.TrimSpace(name)

	e, err := newEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	modulePath := filepath.Join(e.dir, name)
	if _, err := os.Stat(modulePath); err == nil {
		return fmt.Errorf("directory %s already exists", modulePath)
	}
	if err := os.MkdirAll(modulePath, 0o755); err != nil {
		return fmt.Errorf("failed to create module directory: %w", err)
	}

	patch := metadata.Record{Name: metadata.String(name)}
	host, err := system.Info(ctx, hostRunner)
	if err != nil {
		e.logger.Debug("host info unavailable", zap.Error(err))
		fmt.Fprint(e.errOut, ui.Warning(
			fmt.Sprintf("failed to detect host platform, leaving platform unset (%v). Set it later with: waytous module config set --platform <arch>-<codename>", err),
			nil, e.noColor))
	} else {
		patch.Platform = metadata.String(host.DeviceType())
	}

	if !noDemo {
		if err := writeDemo(modulePath, patch); err != nil {
			return err
		}
	}

	st, err := e.currentStore(ctx, modulePath, false)
	if err != nil {
		return err
	}
	rec, err := st.Set(ctx, patch)
	if err != nil {
		return e.reportFailure(query.Result{Module: name, Status: query.StatusOf(err), Err: err})
	}

	ui.WriteSuccess(e.out, fmt.Sprintf("Created module: %s", name), e.noColor)
	fmt.Fprintln(e.out)
	e.renderRecord(query.Result{Module: name, Record: rec, Status: query.StatusOK})

	promptColor := color.New(color.FgCyan)
	if e.noColor {
		promptColor.DisableColor()
	}
	fmt.Fprintln(e.out)
	promptColor.Fprintln(e.out, "Get started:")
	fmt.Fprintf(e.out, "  cd %s\n", modulePath)
	return nil
}

// writeDemo renders the embedded demo project into dir
func writeDemo(dir string, rec metadata.Record) error {
	data := struct {
		Name     string
		Platform string
	}{
		Name:     rec.Display(metadata.FieldName),
		Platform: rec.Display(metadata.FieldPlatform),
	}

	return fs.WalkDir(templatesFS, demoTemplateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(demoTemplateDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, strings.TrimSuffix(rel, ".tmpl"))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		content, err := templatesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		tmpl, err := template.New(rel).Parse(string(content))
		if err != nil {
			return fmt.Errorf("failed to parse template %s: %w", path, err)
		}

		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", target, err)
		}
		if err := tmpl.Execute(f, data); err != nil {
			f.Close()
			return fmt.Errorf("failed to render %s: %w", target, err)
		}
		return f.Close()
	})
}

func newModuleConfigSetCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the current module's metadata",
		Long: `Set one or more metadata fields of the current module. Fields that
are not given keep their stored value. Without flags on a terminal, each
field is prompted for.

Example:
  waytous module config set --name lidar-driver --version 2.1.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModuleConfigSet(cmd, opts)
		},
	}

	for _, f := range metadata.Fields {
		cmd.Flags().String(string(f), "", fmt.Sprintf("module %s", f))
	}
	return cmd
}

// patchFromFlags builds a patch from the field flags that were given.
// An explicitly empty value is kept as an empty string.
func patchFromFlags(cmd *cobra.Command) (metadata.Record, error) {
	var patch metadata.Record
	for _, f := range metadata.Fields {
		if !cmd.Flags().Changed(string(f)) {
			continue
		}
		v, err := cmd.Flags().GetString(string(f))
		if err != nil {
			return metadata.Record{}, err
		}
		patch.Set(f, v)
	}
	if err := patch.Validate(); err != nil {
		return metadata.Record{}, err
	}
	return patch, nil
}

func runModuleConfigSet(cmd *cobra.Command, opts *globalOptions) error {
	patch, err := patchFromFlags(cmd)
	if err != nil {
		return err
	}

	e, err := newEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	svc, err := e.service(ctx, false)
	if err != nil {
		return err
	}

	if patch.IsEmpty() {
		if !isInteractive() {
			flags := make([]string, len(metadata.Fields))
			for i, f := range metadata.Fields {
				flags[i] = "--" + string(f)
			}
			return fmt.Errorf("no fields given, pass at least one of %s", strings.Join(flags, ", "))
		}

		current := svc.DescribeCurrent(ctx)
		if current.Status == query.StatusCorrupt || current.Status == query.StatusError {
			return e.reportFailure(current)
		}
		patch, err = promptFields(current.Record)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			fmt.Fprint(e.out, ui.Info("Nothing changed", e.noColor))
			return nil
		}
	}

	rec, err := svc.SetCurrent(ctx, patch)
	if err != nil {
		return e.reportFailure(query.Result{Status: query.StatusOf(err), Err: err})
	}

	ui.WriteSuccess(e.out, fmt.Sprintf("Updated %s of %s", patchSummary(patch), rec.Display(metadata.FieldName)), e.noColor)
	fmt.Fprintln(e.out)
	e.renderRecord(query.Result{Record: rec, Status: query.StatusOK})
	return nil
}

// promptFields asks for every field, offering the stored value as default.
// Only answers that differ from what is stored end up in the patch.
var promptFields = func(current metadata.Record) (metadata.Record, error) {
	var patch metadata.Record
	for _, f := range metadata.Fields {
		stored, ok := current.Get(f)

		var answer string
		prompt := &survey.Input{
			Message: fmt.Sprintf("Module %s:", f),
			Default: stored,
		}
		if err := survey.AskOne(prompt, &answer); err != nil {
			return metadata.Record{}, err
		}

		if (ok && answer == stored) || (!ok && answer == "") {
			continue
		}
		patch.Set(f, answer)
	}
	return patch, nil
}

func newModuleConfigGetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the current module's metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribeCurrent(cmd, opts)
		},
	}
}

func runDescribeCurrent(cmd *cobra.Command, opts *globalOptions) error {
	e, err := newEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	svc, err := e.service(ctx, true)
	if err != nil {
		return err
	}

	res := svc.DescribeCurrent(ctx)
	e.renderRecord(res)

	switch res.Status {
	case query.StatusOK:
		return nil
	case query.StatusUndefined:
		fmt.Fprintln(e.out)
		fmt.Fprint(e.out, ui.Info("No metadata recorded yet. Set it with: waytous module config set --name <module>", e.noColor))
		return nil
	}
	return e.reportFailure(res)
}

func newModuleGetInfoCommand(opts *globalOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show a module's metadata",
		Long: `Show a module's metadata. Without --name the current module is shown,
otherwise the named module under install_root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return runDescribeCurrent(cmd, opts)
			}
			return runDescribeInstalled(cmd, opts, name)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "installed module to describe")
	return cmd
}

func runDescribeInstalled(cmd *cobra.Command, opts *globalOptions, name string) error {
	e, err := newEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	svc := query.New(nil, e.registry(), e.logger)
	res := svc.Describe(ctx, name)

	switch res.Status {
	case query.StatusOK:
		e.renderRecord(res)
		return nil
	case query.StatusUndefined:
		var installed []string
		for _, r := range svc.ListInstalled(ctx) {
			installed = append(installed, r.Module)
		}
		fmt.Fprint(e.errOut, ui.ModuleNotFoundError(name, ui.FindSimilar(name, installed, nil), e.noColor))
		return reported(res.Err)
	}

	e.renderRecord(res)
	return e.reportFailure(res)
}

func newModuleListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the modules installed on this host",
		Long: `List every module under install_root with its metadata. Modules whose
metadata cannot be read are listed with their status instead of failing
the whole listing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := query.New(nil, e.registry(), e.logger)
			results := svc.ListInstalled(cmd.Context())
			if len(results) == 0 {
				fmt.Fprint(e.out, ui.Info(fmt.Sprintf("No modules installed under %s", e.cfg.InstallRoot), e.noColor))
				return nil
			}

			e.renderList(results)
			e.renderSummary(results)
			return nil
		},
	}
}

func newModuleKeygenCommand(opts *globalOptions) *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key for sealing metadata files",
		Long: `Generate a random 256-bit key, written as hex to a file only its owner
can read. Point encryption.key_file at it and set encryption.enabled.

Example:
  waytous module keygen --out /etc/waytous/metadata.key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if out == "" {
				out = e.cfg.Encryption.KeyFile
			}
			if out == "" {
				return errors.New("--out is required when encryption.key_file is not set")
			}

			if _, err := os.Stat(out); err == nil {
				if !force {
					if !isInteractive() {
						return fmt.Errorf("%s already exists, use --force to replace it", out)
					}
					ok, err := confirm(fmt.Sprintf("Replace existing key %s? Records sealed with it become unreadable.", out))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprint(e.out, ui.Info("Key left unchanged", e.noColor))
						return nil
					}
				}
				if err := os.Remove(out); err != nil {
					return fmt.Errorf("failed to remove existing key: %w", err)
				}
			}

			if err := keyprovider.Generate(out); err != nil {
				return err
			}

			ui.WriteSuccess(e.out, fmt.Sprintf("Generated metadata key: %s", out), e.noColor)
			fmt.Fprintln(e.out)
			fmt.Fprint(e.out, ui.Info(fmt.Sprintf("Enable sealing in waytous.yaml:\n   encryption:\n     enabled: true\n     key_file: %s", out), e.noColor))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "key file to create (default: encryption.key_file)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key file")
	return cmd
}

// confirm asks a yes/no question, defaulting to no
var confirm = func(message string) (bool, error) {
	var ok bool
	prompt := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
