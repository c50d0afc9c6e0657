package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-construction/internal/estimates"
)

type rollupOutput struct {
	Title    string                   `json:"title"`
	Kind     estimates.Kind           `json:"kind"`
	Revision int                      `json:"revision"`
	Totals   any                      `json:"totals"`
	Variance any                      `json:"variance,omitempty"`
	Budget   *estimates.BudgetSummary `json:"budget,omitempty"`
}

func newRollupCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "rollup <file>",
		Short: "Recalculate a document and print its totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(args[0], e.calculator())
			if err != nil {
				return err
			}
			if asJSON {
				out := rollupOutput{Title: doc.Title, Kind: doc.Kind, Revision: doc.Revision, Totals: doc.Totals, Budget: doc.Budget}
				if doc.Variance != nil {
					out.Variance = doc.Variance
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			formatRollup(cmd.OutOrStdout(), e, doc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print totals as JSON")
	return cmd
}

func formatRollup(w io.Writer, e *env, doc estimates.Document) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Document\t%s (%s, rev %d)\n", doc.Title, doc.Kind, doc.Revision)
	_, _ = fmt.Fprintf(tw, "Items\t%d\n", doc.Totals.ItemCount)
	_, _ = fmt.Fprintf(tw, "Base total\t%s\n", e.amount(doc.Totals.BaseTotal))
	for _, adj := range doc.Totals.Adjustments {
		_, _ = fmt.Fprintf(tw, "%s (%s%%)\t%s\n", adj.Kind, estimates.FormatAmount(e.lang, adj.Percentage, 2), e.amount(adj.Amount))
	}
	_, _ = fmt.Fprintf(tw, "Grand total\t%s\n", e.amount(doc.Totals.GrandTotal))
	if v := doc.Variance; v != nil {
		pct := estimates.FormatAmount(e.lang, v.Percentage, 2) + "%"
		if v.BaselineZero {
			pct = "n/a"
		}
		_, _ = fmt.Fprintf(tw, "Variance\t%s (%s, %s)\n", e.amount(v.Absolute), pct, v.Status)
	}
	if b := doc.Budget; b != nil {
		_, _ = fmt.Fprintf(tw, "Budgeted\t%s\n", e.amount(b.TotalBudgeted))
		_, _ = fmt.Fprintf(tw, "Spent\t%s\n", e.amount(b.TotalActual))
		_, _ = fmt.Fprintf(tw, "Budget variance\t%s\n", e.amount(b.TotalVariance))
	}
	_ = tw.Flush()
}
