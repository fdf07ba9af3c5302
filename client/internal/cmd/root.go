// Package cmd implements the updater command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thinkparq/updater-go/client/internal/cmdfmt"
	"github.com/thinkparq/updater-go/client/internal/config"
)

// NewRootCmd returns the updater command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updater",
		Short: "Keep an installed application in line with an update server",
		Long: cmdfmt.Wrap(`The updater compares the CHECKLIST at the root of an installation with the latest version published on an update server and transfers only the files that changed.

Configuration may be set using flags, environment variables, and an optional TOML file. Environment variables are named UPDATER_CLIENT_<FLAG> with hyphens replaced by underscores, for example UPDATER_CLIENT_APP_PATH.`),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadConfigFile(); err != nil {
				return err
			}
			return config.Validate()
		},
	}
	config.InitGlobalFlags(cmd)
	cmd.AddCommand(
		newCheckCmd(),
		newUpdateCmd(),
		newDownloadCmd(),
		newChecklistCmd(),
	)
	return cmd
}

func outputFormat() string {
	return viper.GetString(config.OutputKey)
}

func raw() bool {
	return viper.GetBool(config.RawKey)
}
