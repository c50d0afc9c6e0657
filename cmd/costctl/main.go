package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-construction/internal/app"
	"github.com/odyssey-erp/odyssey-construction/internal/estimates"
)

// env carries what every subcommand shares once the root has loaded configuration.
type env struct {
	cfg       *app.Config
	logger    *slog.Logger
	precision int
	lang      language.Tag
}

func (e *env) calculator() estimates.Calculator {
	return estimates.NewCalculator(e.precision)
}

func (e *env) amount(v float64) string {
	return estimates.FormatAmount(e.lang, v, e.precision)
}

func newRootCmd() *cobra.Command {
	e := &env{}
	var (
		precision int
		langName  string
	)
	root := &cobra.Command{
		Use:           "costctl",
		Short:         "Offline tooling for construction cost documents",
		Long:          "Recalculates, inspects and exports BOQs, cost estimations and project budgets from YAML files, and manages the backing database and job queue.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			e.cfg = cfg
			e.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			e.precision = cfg.CurrencyPrecision
			if cmd.Flags().Changed("precision") {
				e.precision = precision
			}
			if langName == "" {
				langName = cfg.ExportLanguage
			}
			tag, err := language.Parse(langName)
			if err != nil {
				return fmt.Errorf("parse language %q: %w", langName, err)
			}
			e.lang = tag
			return nil
		},
	}
	root.PersistentFlags().IntVar(&precision, "precision", 2, "decimal places used for rounding")
	root.PersistentFlags().StringVar(&langName, "lang", "", "language tag for number formatting (defaults to EXPORT_LANGUAGE)")

	root.AddCommand(
		newRollupCmd(e),
		newVarianceCmd(e),
		newTreeCmd(e),
		newExportCmd(e),
		newMigrateCmd(e),
		newEnqueueCmd(e),
		newQueueCmd(e),
	)
	return root
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(stderr, "costctl: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
