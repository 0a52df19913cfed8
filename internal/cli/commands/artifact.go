package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waytous/waytous/internal/artifact"
	"github.com/waytous/waytous/internal/cli/ui"
	"github.com/waytous/waytous/internal/system"
)

// NewArtifactCommand creates the artifact command
func NewArtifactCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Create and inspect OTA artifacts",
	}

	writeCmd := &cobra.Command{
		Use:   "write",
		Short: "Create an OTA artifact",
	}
	writeCmd.AddCommand(newArtifactWriteModuleImageCommand(opts))

	cmd.AddCommand(writeCmd)
	cmd.AddCommand(newArtifactReadCommand(opts))
	return cmd
}

func newArtifactWriteModuleImageCommand(opts *globalOptions) *cobra.Command {
	var image artifact.ModuleImage

	cmd := &cobra.Command{
		Use:   "module-image",
		Short: "Create a module-type OTA artifact",
		Long: `Package module files as a module-image artifact named
<name>-<software-version>.mender for this host's device type.

-f may be repeated, and any file names following it are included too.
File names are taken verbatim, commas included.

Example:
  waytous artifact write module-image -T deb -n ht-truck \
      --software-version 1.0.0 -f lidar.deb radar.deb`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			image.Files = append(image.Files, args...)

			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			ctx := cmd.Context()

			host, err := system.Info(ctx, hostRunner)
			if err != nil {
				return err
			}
			image.DeviceType = host.DeviceType()
			if err := image.Validate(); err != nil {
				return err
			}

			builder := artifact.NewBuilder(e.cfg.Artifact.Tool, hostRunner)
			var output string
			err = ui.WithSpinner(e.errOut, fmt.Sprintf("Writing %s", image.FileName()), e.noColor, func() error {
				var werr error
				output, werr = builder.WriteModuleImage(ctx, image)
				return werr
			})
			if err != nil {
				return err
			}

			table := ui.NewKeyValueTable(e.out, e.noColor)
			table.AddRow("Artifact", output)
			table.AddRow("Type", image.Type)
			table.AddRow("Name", image.Name)
			table.AddRow("Software version", image.SoftwareVersion)
			table.AddRow("Mode", image.Mode)
			table.AddRow("Device type", image.DeviceType)
			table.AddRow("Files", strings.Join(image.Files, ", "))
			table.Render()
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&image.Type, "type", "T", "", fmt.Sprintf("module type (%s)", strings.Join(artifact.ValidTypes, "|")))
	flags.StringVarP(&image.Name, "name", "n", "", "artifact name, e.g. ht-truck")
	flags.StringVar(&image.SoftwareVersion, "software-version", "", "software version")
	flags.StringVar(&image.Mode, "mode", "release", fmt.Sprintf("build mode (%s)", strings.Join(artifact.ValidModes, "|")))
	flags.StringArrayVarP(&image.Files, "file", "f", nil, "file to include (repeatable, trailing file names are included too)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("software-version")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newArtifactReadCommand(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Show the contents of an OTA artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			builder := artifact.NewBuilder(e.cfg.Artifact.Tool, hostRunner)
			out, err := builder.Read(cmd.Context(), file)
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "artifact file to read")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
