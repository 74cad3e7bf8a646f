package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/bridge"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
	"github.com/xkilldash9x/surveyfill/internal/locator"
	"github.com/xkilldash9x/surveyfill/internal/observability"
)

// readHTML loads markup from a file, or from stdin when path is "-".
func readHTML(cmd *cobra.Command, path string) (string, error) {
	if path == "" {
		return "", apperr.NewValidationError("html", "a file is required (use - for stdin)")
	}
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(b), nil
}

func newCandidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List locator candidates for an element of a saved page, or for every filled field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			htmlPath, _ := cmd.Flags().GetString("html")
			markup, err := readHTML(cmd, htmlPath)
			if err != nil {
				return err
			}
			url, _ := cmd.Flags().GetString("url")
			snap, err := page.NewSnapshotFromHTML(url, markup)
			if err != nil {
				return err
			}

			eng, err := buildEngines(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			pg := page.New(snap, eng.Resolver, logger)
			xpath, _ := cmd.Flags().GetString("xpath")
			if xpath == "" {
				fields, err := eng.Scanner.Scan(ctx, pg)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), fields)
			}

			doc, err := pg.Document(ctx)
			if err != nil {
				return err
			}
			el, err := doc.QueryXPathOne(xpath)
			if err != nil {
				return apperr.NewValidationError("xpath", err.Error())
			}
			if el == nil {
				return apperr.NewNotFoundError("element", xpath)
			}
			cands := eng.Generator.Generate(el)
			return printJSON(cmd.OutOrStdout(), bridge.CandidateReport{
				XPath:          xpath,
				Label:          locator.Label(el),
				ElementType:    el.ElementType(),
				Candidates:     cands,
				Recommendation: eng.Ranking.Recommend(ctx, el, cands),
			})
		},
	}
	cmd.Flags().String("html", "", "saved page to analyse (- reads stdin)")
	cmd.Flags().String("xpath", "", "element to describe; empty lists every filled field")
	cmd.Flags().String("url", "about:blank", "URL the page was saved from")
	return cmd
}
