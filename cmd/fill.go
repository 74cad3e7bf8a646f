package cmd

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
	"github.com/xkilldash9x/surveyfill/internal/fill"
	"github.com/xkilldash9x/surveyfill/internal/observability"
	"github.com/xkilldash9x/surveyfill/internal/survey"
)

// fillReport is what `fill` prints.
type fillReport struct {
	URL     string               `json:"url"`
	Survey  *schemas.SurveyInfo  `json:"surveyInfo,omitempty"`
	Results []schemas.FillResult `json:"results"`
	Message string               `json:"message"`
}

func newFillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill <url>",
		Short: "Open a URL in a browser and fill the stored fields its domain rule selects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("headless") {
				headless, _ := cmd.Flags().GetBool("headless")
				cfg.SetBrowserHeadless(headless)
			}
			all, _ := cmd.Flags().GetBool("all")
			ids, _ := cmd.Flags().GetStringSlice("field")

			eng, err := buildEngines(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			rawURL := args[0]
			rules, err := eng.Repo.DomainRules(ctx)
			if err != nil {
				return err
			}
			stored, err := eng.Repo.Fields(ctx)
			if err != nil {
				return err
			}
			decision := survey.CheckDomainAutoFill(rawURL, rules, stored, cfg.Autofill().DefaultDomainDelay)
			fields := decision.Fields
			switch {
			case len(ids) > 0:
				fields = slices.DeleteFunc(slices.Clone(stored), func(f schemas.FieldRecord) bool { return !slices.Contains(ids, f.ID) })
			case all:
				fields = stored
			case !decision.ShouldFill:
				return fmt.Errorf("no enabled domain rule selects fields for %s (use --all or --field)", survey.Hostname(rawURL))
			}

			browserCfg := cfg.Browser()
			chrome, closeBrowser, err := page.LaunchChrome(ctx, browserCfg, logger)
			if err != nil {
				return err
			}
			defer closeBrowser()

			if err := chrome.Navigate(ctx, rawURL, browserCfg.NavigationTimeout); err != nil {
				return err
			}
			wait := max(browserCfg.SettleDelay, decision.Delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}

			pg := page.New(chrome, eng.Resolver, logger)
			results := eng.Executor.Fill(ctx, pg, fields)
			if err := eng.Recorder.Record(ctx, survey.Hostname(rawURL), results); err != nil {
				logger.Warn("Failed to record fill results", zap.Error(err))
			}

			opts, err := eng.Repo.Options(ctx)
			if err != nil {
				opts = schemas.DefaultOptions()
			}
			info := eng.Detector.Detect(rawURL, "", decision.Configured)
			platform := ""
			if info != nil {
				platform = info.Platform
			}
			filled, _ := fill.Summary(results)
			return printJSON(cmd.OutOrStdout(), fillReport{
				URL:     rawURL,
				Survey:  info,
				Results: results,
				Message: fill.Notice(filled, platform, opts.IframeSupportEnabled),
			})
		},
	}
	cmd.Flags().Bool("all", false, "fill every stored field regardless of domain rules")
	cmd.Flags().StringSlice("field", nil, "fill only these stored field ids")
	cmd.Flags().Bool("headless", true, "run the browser headless (overrides browser.headless)")
	return cmd
}
