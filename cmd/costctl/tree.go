package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-construction/internal/estimates"
	"github.com/odyssey-erp/odyssey-construction/internal/hierarchy"
	"github.com/odyssey-erp/odyssey-construction/internal/lineitem"
)

func newTreeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <file>",
		Short: "Print the item hierarchy with section sums",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := loadDocument(args[0], e.calculator())
			if err != nil {
				return err
			}
			return formatTree(cmd.OutOrStdout(), e, doc)
		},
	}
}

func formatTree(w io.Writer, e *env, doc estimates.Document) error {
	tree, err := hierarchy.FromSlice(doc.Items)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CODE\tITEM\tQTY\tAMOUNT")
	tree.Walk(func(it *lineitem.LineItem, level int) {
		qty := ""
		if it.Quantity != nil && !it.IsGroup {
			qty = strings.TrimSpace(fmt.Sprintf("%g %s", *it.Quantity, it.Unit))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s%s\t%s\t%s\n", it.Code, strings.Repeat("  ", level), it.Name, qty, e.amount(it.Amount))
	})
	_, _ = fmt.Fprintf(tw, "\tGrand total\t\t%s\n", e.amount(doc.Totals.GrandTotal))
	return tw.Flush()
}
