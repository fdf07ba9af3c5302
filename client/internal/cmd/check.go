package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/thinkparq/updater-go/client/internal/cmdfmt"
	"github.com/thinkparq/updater-go/client/internal/config"
	"github.com/thinkparq/updater-go/client/pkg/updater"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Show what an update would change",
		Long: cmdfmt.Wrap(`Submits the local CHECKLIST to the update server and lists every file that would be added, overwritten or deleted to reach the latest version. Nothing is modified except that a missing CHECKLIST is initialized from --app-name and --app-version.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := config.NewClient()
			if err != nil {
				return err
			}
			result, err := client.Check(cmd.Context())
			if err != nil {
				return err
			}
			return printCheckResult(cmd.OutOrStdout(), result)
		},
	}
}

func printCheckResult(w io.Writer, result updater.CheckResult) error {
	if outputFormat() == cmdfmt.FormatJSON {
		return cmdfmt.PrintJSON(w, result, cmdfmt.IsTerminal())
	}
	if !result.NeedUpdate {
		fmt.Fprintf(w, "%s %s is up to date.\n", result.AppName, result.OldVersion)
		return nil
	}
	fmt.Fprintf(w, "Update available for %s: %s -> %s (%d files, %s)\n\n", result.AppName, result.OldVersion,
		result.NewVersion, len(result.Files), cmdfmt.FormatSize(result.TotalSize, raw()))
	if len(result.Files) == 0 {
		return nil
	}
	p := cmdfmt.NewPrinter(outputFormat(), "option", "path", "size", "crc32")
	for _, f := range result.Files {
		p.AppendRow(table.Row{f.Option, f.Path, cmdfmt.FormatSize(f.Size, raw()), f.CRC32})
	}
	fmt.Fprintln(w, p.Render())
	return nil
}
