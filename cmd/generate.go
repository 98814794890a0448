package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/rasha-hantash/locscout/pipeline"
	"github.com/spf13/cobra"
)

var (
	flagRetry    string
	flagHTMLFile string
	flagTabID    string
)

var generateCmd = &cobra.Command{
	Use:   "generate <url>",
	Short: "Extract a venue page and write it to Slides and Sheets",
	Long: `Generate runs the whole pipeline for one page:
extractor → analyzer → auth → generator → sink.

The result envelope is printed as JSON. With --retry the last run is
reloaded and resumed from the named step, and <url> may be omitted.

Examples:
  locscout generate https://example.com/hall
  locscout generate https://example.com/hall --html saved.html
  locscout generate --retry generator`,
	Args: func(cmd *cobra.Command, args []string) error {
		if flagRetry != "" {
			return cobra.MaximumNArgs(1)(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&flagRetry, "retry", "", "Resume the last run from this step (extractor|analyzer|auth|generator|sink)")
	generateCmd.Flags().StringVar(&flagHTMLFile, "html", "", "Read the page from this file instead of fetching it")
	generateCmd.Flags().StringVar(&flagTabID, "tab", "cli", "Key that guards against overlapping runs")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var req pipeline.Request
	if flagRetry == "" {
		rawURL := args[0]
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid URL: %s (must include scheme, e.g. https://example.com)", rawURL)
		}
		req = pipeline.Request{TabID: flagTabID, URL: rawURL}
		if flagHTMLFile != "" {
			if req.HTML, err = os.ReadFile(flagHTMLFile); err != nil {
				return fmt.Errorf("reading page snapshot: %w", err)
			}
		}
	}

	a, err := newApp(ctx, settings, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var res pipeline.Result
	if flagRetry != "" {
		res = a.orch.Resume(ctx, flagRetry, a.apiKey)
	} else {
		req.APIKey = a.apiKey
		res = a.orch.Generate(ctx, req)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("generation failed: %s", res.Error)
	}
	return nil
}
