package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thinkparq/updater-go/client/internal/cmdfmt"
	"github.com/thinkparq/updater-go/client/internal/config"
	"github.com/thinkparq/updater-go/client/pkg/updater"
)

func newDownloadCmd() *cobra.Command {
	var version, dest string
	cmd := &cobra.Command{
		Use:   "download [app]",
		Short: "Download the full archive of an application",
		Long: cmdfmt.Wrap(fmt.Sprintf(`Downloads the zip archive of the latest (or --version) published version into --dest. The application defaults to --%s, or the application named by the local CHECKLIST.`, config.AppNameKey)),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := config.NewClient()
			if err != nil {
				return err
			}
			app, err := downloadApp(client, args)
			if err != nil {
				return err
			}
			var p string
			var n int64
			if version == "" {
				p, n, err = client.DownloadLatest(cmd.Context(), app, dest)
			} else {
				p, n, err = client.DownloadVersion(cmd.Context(), app, version, dest)
			}
			if err != nil {
				return err
			}
			if outputFormat() == cmdfmt.FormatJSON {
				return cmdfmt.PrintJSON(cmd.OutOrStdout(), map[string]any{"path": p, "size": n}, cmdfmt.IsTerminal())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", p, cmdfmt.FormatSize(n, raw()))
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Download this version instead of the latest.")
	cmd.Flags().StringVar(&dest, "dest", ".", "Directory the archive is saved to.")
	return cmd
}

func downloadApp(client *updater.Client, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if app := viper.GetString(config.AppNameKey); app != "" {
		return app, nil
	}
	local, err := client.LoadLocal()
	if err != nil {
		if errors.Is(err, updater.ErrNotConfigured) {
			return "", fmt.Errorf("no application given: pass it as an argument or set --%s", config.AppNameKey)
		}
		return "", err
	}
	return local.AppName, nil
}
