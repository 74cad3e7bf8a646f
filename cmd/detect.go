package cmd

import (
	"fmt"
	"io"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/observability"
	"github.com/xkilldash9x/surveyfill/internal/survey"
)

// detectReport is what `detect` prints for a URL.
type detectReport struct {
	Survey    *schemas.SurveyInfo     `json:"surveyInfo"`
	LoginPage bool                    `json:"isLoginPage"`
	IDValid   bool                    `json:"isValidId"`
	AutoFill  survey.AutoFillDecision `json:"autoFill"`
	ExtractID string                  `json:"extractedId"`
}

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect <url>",
		Short: "Show how a URL is classified: survey platform, identifier and autofill decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			eng, err := buildEngines(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			rules, err := eng.Repo.DomainRules(ctx)
			if err != nil {
				return err
			}
			fields, err := eng.Repo.Fields(ctx)
			if err != nil {
				return err
			}

			rawURL := args[0]
			title, _ := cmd.Flags().GetString("title")
			configured, _ := cmd.Flags().GetBool("configured")
			decision := survey.CheckDomainAutoFill(rawURL, rules, fields, cfg.Autofill().DefaultDomainDelay)
			id := survey.ExtractID(rawURL)
			return printJSON(cmd.OutOrStdout(), detectReport{
				Survey:    eng.Detector.Detect(rawURL, title, configured || decision.Configured),
				LoginPage: survey.IsLoginPage(rawURL),
				IDValid:   survey.IsValidID(id),
				AutoFill:  decision,
				ExtractID: id,
			})
		},
	}
	cmd.Flags().String("title", "", "page title used for the survey record")
	cmd.Flags().Bool("configured", false, "treat the domain as configured even without a stored rule")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
