package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/surveyfill/api/schemas"
	"github.com/xkilldash9x/surveyfill/internal/browser/page"
	"github.com/xkilldash9x/surveyfill/internal/locator"
	"github.com/xkilldash9x/surveyfill/internal/observability"
	"github.com/xkilldash9x/surveyfill/internal/regexguard"
)

func newRegexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regex",
		Short: "Check regex locators before storing them",
	}
	cmd.AddCommand(newRegexValidateCmd(), newRegexTestCmd())
	return cmd
}

func newRegexValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pattern>",
		Short: "Report syntax errors, dangerous shapes and complexity of a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd.Context())
			if err != nil {
				return err
			}
			guard := regexguard.New(regexguard.OptionsFromConfig(cfg.Regex()), observability.GetLogger())
			v := guard.Validate(args[0])
			if err := printJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
			if !v.Valid() {
				return errors.New("pattern rejected: " + strings.Join(v.Errors, "; "))
			}
			return nil
		},
	}
}

func newRegexTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <pattern>",
		Short: "List the elements of a saved page a regex locator matches",
		Args:  cobra.ExactArgs(1),
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
			snap, err := page.NewSnapshotFromHTML("about:blank", markup)
			if err != nil {
				return err
			}
			kind, _ := cmd.Flags().GetString("kind")

			guard := regexguard.New(regexguard.OptionsFromConfig(cfg.Regex()), logger)
			resolver := locator.NewResolver(guard, logger)
			doc, err := snap.Snapshot(ctx)
			if err != nil {
				return err
			}
			report, err := resolver.TestPattern(ctx, doc, args[0], schemas.LocatorKind(kind))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().String("html", "", "saved page to test against (- reads stdin)")
	cmd.Flags().String("kind", string(schemas.LocatorRegexLabel), "regex locator kind, e.g. regex-label or regex-id")
	return cmd
}
