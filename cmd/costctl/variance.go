package main

import (
	"encoding/csv"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-construction/internal/variance"
)

func newVarianceCmd(e *env) *cobra.Command {
	var actual, baseline float64
	cmd := &cobra.Command{
		Use:   "variance [file]",
		Short: "Compare an actual against a baseline, or print a budget's category variances as CSV",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				doc, err := loadDocument(args[0], e.calculator())
				if err != nil {
					return err
				}
				if doc.Budget == nil {
					return fmt.Errorf("%s has no budget categories", args[0])
				}
				w := csv.NewWriter(out)
				if err := w.WriteAll(variance.ExportRows(doc.Budget.Rows)); err != nil {
					return fmt.Errorf("write csv: %w", err)
				}
				return nil
			}
			if !cmd.Flags().Changed("actual") || !cmd.Flags().Changed("baseline") {
				return errors.New("either a budget file or both --actual and --baseline are required")
			}
			v, err := variance.Compute(actual, baseline)
			if err != nil && !errors.Is(err, variance.ErrZeroBaseline) {
				return err
			}
			pct := e.amount(v.Percentage) + "%"
			if v.BaselineZero {
				pct = "n/a (zero baseline)"
			}
			_, _ = fmt.Fprintf(out, "variance: %s\npercentage: %s\nstatus: %s (%s)\n",
				e.amount(v.Absolute), pct, v.Status, v.Status.Indicator())
			return nil
		},
	}
	cmd.Flags().Float64Var(&actual, "actual", 0, "actual amount")
	cmd.Flags().Float64Var(&baseline, "baseline", 0, "baseline amount, such as the estimated cost")
	return cmd
}
