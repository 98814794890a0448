package cmd

import (
	"fmt"
	"log/slog"

	"github.com/rasha-hantash/locscout/config"
	"github.com/spf13/cobra"
)

var (
	flagMaster     bool
	flagSheetTitle string
	flagSaveSheet  bool
)

var sheetCmd = &cobra.Command{
	Use:   "sheet",
	Short: "Manage the record spreadsheets",
}

var sheetBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create a spreadsheet with the header row and parking dropdown",
	Long: `Bootstrap creates a personal spreadsheet, or the shared master spreadsheet
with --master. With --save its id is written back to the config file.`,
	Args: cobra.NoArgs,
	RunE: runSheetBootstrap,
}

func init() {
	sheetBootstrapCmd.Flags().BoolVar(&flagMaster, "master", false, "Create the shared master layout (adds the 登録者 column)")
	sheetBootstrapCmd.Flags().StringVar(&flagSheetTitle, "title", "", "Spreadsheet title")
	sheetBootstrapCmd.Flags().BoolVar(&flagSaveSheet, "save", false, "Write the new id to the config file")
	sheetCmd.AddCommand(sheetBootstrapCmd)
	rootCmd.AddCommand(sheetCmd)
}

func runSheetBootstrap(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, settings, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.auth.Token(ctx, true); err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	id, err := a.sink.Create(ctx, flagSheetTitle, flagMaster)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)

	if !flagSaveSheet {
		return nil
	}
	s := settings
	if flagMaster {
		s.Sheets.MasterSpreadsheetID = id
		s.Sheets.TeamSharing = true
	} else {
		s.Sheets.SpreadsheetID = id
		s.Sheets.SavePersonal = true
	}
	if err := config.Save(configPath, s); err != nil {
		return err
	}
	slog.Info("saved spreadsheet id", slog.String("config", configPath))
	return nil
}
