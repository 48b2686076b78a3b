// Command trikhub-lint statically audits a trik package. Exit code 0 when
// no errors are found (warnings may be present), 1 otherwise.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Molefas/trikhub/internal/gateway/versions"
	"github.com/Molefas/trikhub/internal/lint"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		warningsAsErrors bool
		skipRules        []string
		checkEntryPoint  bool
		format           string
	)

	cmd := &cobra.Command{
		Use:     "trikhub-lint <path>",
		Short:   "Lint a trik package",
		Args:    cobra.ExactArgs(1),
		Version: versions.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := lint.Run(args[0], lint.Options{
				WarningsAsErrors: warningsAsErrors,
				SkipRules:        skipRules,
				CheckEntryPoint:  checkEntryPoint,
			})
			if err != nil {
				return err
			}

			if werr := lint.WriteReport(cmd.OutOrStdout(), result, lint.Format(format)); werr != nil {
				return werr
			}
			if result.HasErrors(warningsAsErrors) {
				// diagnostics already written; exit without usage noise
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&warningsAsErrors, "warnings-as-errors", false, "treat warnings as errors")
	cmd.Flags().StringArrayVar(&skipRules, "skip", nil, "rule to skip (repeatable)")
	cmd.Flags().BoolVar(&checkEntryPoint, "check-entry-point", false, "assert the compiled entry artifact exists")
	cmd.Flags().StringVar(&format, "format", "text", "report format: text, json, or yaml")
	return cmd
}
