package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thinkparq/updater-go/client/internal/cmdfmt"
	"github.com/thinkparq/updater-go/client/internal/config"
	"github.com/thinkparq/updater-go/common/api"
	"github.com/thinkparq/updater-go/common/filesystem"
	"github.com/thinkparq/updater-go/common/manifest"
)

func newChecklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checklist",
		Short: "Create and inspect CHECKLIST files",
	}
	cmd.AddCommand(newChecklistInitCmd(), newChecklistBuildCmd())
	return cmd
}

func newChecklistInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty CHECKLIST for a fresh installation",
		Long: cmdfmt.Wrap(fmt.Sprintf(`Writes a CHECKLIST without any files to --%s using --%s and --%s. The next update then downloads every file of the latest version. An existing CHECKLIST is left untouched.`,
			config.AppPathKey, config.AppNameKey, config.AppVersionKey)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := config.NewClient()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(client.ChecklistPath())
			existed := statErr == nil
			m, err := client.LoadLocal()
			if err != nil {
				return err
			}
			if outputFormat() == cmdfmt.FormatJSON {
				return cmdfmt.PrintJSON(cmd.OutOrStdout(), api.NewUpdateModel(m), cmdfmt.IsTerminal())
			}
			if existed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists (%s %s, %d files)\n", client.ChecklistPath(), m.AppName, m.Version, len(m.Entries))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s for %s %s\n", client.ChecklistPath(), m.AppName, m.Version)
			return nil
		},
	}
}

func newChecklistBuildCmd() *cobra.Command {
	var rules filesystem.IgnoreRules
	var write bool
	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Generate the CHECKLIST of a directory",
		Long: cmdfmt.Wrap(fmt.Sprintf(`Computes the checksum of every file below <dir> and prints the resulting CHECKLIST, the same way the update server does when a version is published. The application name and version are taken from --%s and --%s. Use --write to save it as <dir>/CHECKLIST instead.`,
			config.AppNameKey, config.AppVersionKey)),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, version := viper.GetString(config.AppNameKey), viper.GetString(config.AppVersionKey)
			if app == "" || version == "" {
				return fmt.Errorf("--%s and --%s are required", config.AppNameKey, config.AppVersionKey)
			}
			m, err := buildChecklist(cmd, afero.NewOsFs(), args[0], app, version, rules, write)
			if err != nil {
				return err
			}
			if outputFormat() == cmdfmt.FormatJSON {
				return cmdfmt.PrintJSON(cmd.OutOrStdout(), api.NewUpdateModel(m), cmdfmt.IsTerminal())
			}
			if write {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d files)\n", filepath.Join(args[0], manifest.FileName), len(m.Entries))
				return nil
			}
			return manifest.Serialize(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().StringSliceVar(&rules.Names, "ignore-name", nil, "File or directory names to leave out at any depth.")
	cmd.Flags().StringSliceVar(&rules.Patterns, "ignore-pattern", nil, "Glob patterns (doublestar syntax) to leave out.")
	cmd.Flags().StringVar(&rules.Filter, "ignore-filter", "", filesystem.FilterFilesHelp)
	cmd.Flags().BoolVar(&write, "write", false, "Save the CHECKLIST into <dir> instead of printing it.")
	return cmd
}

func buildChecklist(cmd *cobra.Command, fsys afero.Fs, dir string, app string, version string, rules filesystem.IgnoreRules, write bool) (manifest.Manifest, error) {
	info, err := fsys.Stat(dir)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if !info.IsDir() {
		return manifest.Manifest{}, errors.New(dir + " is not a directory")
	}
	ignorer, err := rules.Compile()
	if err != nil {
		return manifest.Manifest{}, err
	}
	m, err := manifest.Build(cmd.Context(), fsys, dir, app, version, ignorer.Keep)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if write {
		if err := manifest.ToDisk(fsys, m, filepath.Join(dir, manifest.FileName)); err != nil {
			return manifest.Manifest{}, err
		}
	}
	return m, nil
}
