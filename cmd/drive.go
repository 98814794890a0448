package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/rasha-hantash/locscout/steps/generator"
	"github.com/spf13/cobra"
)

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "List Drive folders that new presentations can be filed into",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listDrive(cmd, (*generator.Generator).ListFolders)
	},
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List presentations usable as templates or append targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listDrive(cmd, (*generator.Generator).ListPresentations)
	},
}

func init() {
	rootCmd.AddCommand(foldersCmd, templatesCmd)
}

func listDrive(cmd *cobra.Command, list func(*generator.Generator, context.Context) ([]generator.DriveFile, error)) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, settings, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.auth.Token(ctx, true); err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	files, err := list(a.generator, ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODIFIED")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.ID, f.Name, f.ModifiedTime)
	}
	return w.Flush()
}
