package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thinkparq/updater-go/client/internal/cmdfmt"
	"github.com/thinkparq/updater-go/client/internal/config"
	"github.com/thinkparq/updater-go/client/pkg/updater"
	"github.com/thinkparq/updater-go/common/api"
)

func newUpdateCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the installation to the latest version",
		Long: cmdfmt.Wrap(fmt.Sprintf(`Checks for an update and applies it. Deleted files are removed first, then changed files are downloaded using up to --%s parallel transfers. The CHECKLIST is replaced last, so an interrupted update can simply be run again.`, config.ParallelKey)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			quiet := outputFormat() == cmdfmt.FormatJSON
			errOut := cmd.ErrOrStderr()
			client, err := config.NewClient(updater.WithProgress(func(f api.FileModel, done int, total int) {
				if !quiet {
					fmt.Fprintf(errOut, "[%d/%d] %-9s %s\n", done, total, f.Option, f.Path)
				}
			}))
			if err != nil {
				return err
			}
			result, err := client.Check(cmd.Context())
			if err != nil {
				return err
			}
			if dryRun || !result.NeedUpdate {
				return printCheckResult(cmd.OutOrStdout(), result)
			}
			stats, err := client.Apply(cmd.Context(), result)
			if err != nil {
				return fmt.Errorf("update of %s to %s failed, run the update again to resume: %w", result.AppName, result.NewVersion, err)
			}
			if quiet {
				return cmdfmt.PrintJSON(cmd.OutOrStdout(), struct {
					updater.CheckResult
					Applied updater.ApplyStats `json:"applied"`
				}{result, stats}, cmdfmt.IsTerminal())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s from %s to %s: %d downloaded (%s), %d deleted.\n", result.AppName,
				result.OldVersion, result.NewVersion, stats.Downloaded, cmdfmt.FormatSize(stats.Bytes, raw()), stats.Deleted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only show what would change, the same as the check command.")
	return cmd
}
