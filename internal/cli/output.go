package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"erp/ecommerce/cart-service/internal/cart"
)

func writeState(cmd *cobra.Command, format string, st cart.State) error {
	if format == "json" {
		return writeJSON(cmd, st.Lines())
	}
	if err := writeLines(cmd, st.Items); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "total %d\n", st.Count())
	return err
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeLines(cmd *cobra.Command, items []cart.Item) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "cart is empty")
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQTY\tNAME")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", it.ID, it.Quantity, displayName(it))
	}
	return tw.Flush()
}

func displayName(it cart.Item) string {
	raw, ok := it.Field("name")
	if !ok {
		return "-"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}
