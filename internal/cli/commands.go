package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"erp/ecommerce/cart-service/internal/cart"
	"erp/ecommerce/cart-service/internal/client"
)

func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProvider(cmd, func(ctx context.Context, p *client.Provider) error {
				st, err := p.Refresh(ctx)
				if err != nil {
					return err
				}
				return writeState(cmd, rootOpts.Format, st)
			})
		},
	}
}

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Fields   string
	StringID bool
}

func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add one unit of a product",
		Long: `Add one unit of a product. Adding a product already in the cart raises its
quantity by one; the fields given the first time are kept.

Example:
  cartctl add 42 --fields '{"name":"Mug","price":"7.50"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item := cart.Item{ID: parseID(args[0], opts.StringID)}
			if opts.Fields != "" {
				if err := json.Unmarshal([]byte(opts.Fields), &item.Fields); err != nil {
					return fmt.Errorf("invalid --fields JSON: %w", err)
				}
				delete(item.Fields, "id")
				delete(item.Fields, "quantity")
			}
			return rootOpts.withProvider(cmd, func(ctx context.Context, p *client.Provider) error {
				st, err := p.AddToCart(ctx, item)
				if err != nil {
					return err
				}
				return writeState(cmd, rootOpts.Format, st)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Fields, "fields", "", "product fields as a JSON object")
	cmd.Flags().BoolVar(&opts.StringID, "string-id", false, "send a numeric looking id as a string")

	return cmd
}

func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	var stringID bool
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := parseID(args[0], stringID)
			return rootOpts.withProvider(cmd, func(ctx context.Context, p *client.Provider) error {
				st, err := p.RemoveFromCart(ctx, id)
				if err != nil {
					return err
				}
				return writeState(cmd, rootOpts.Format, st)
			})
		},
	}
	cmd.Flags().BoolVar(&stringID, "string-id", false, "send a numeric looking id as a string")
	return cmd
}

func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var stringID bool
	cmd := &cobra.Command{
		Use:   "update <id> <quantity>",
		Short: "Set a product's quantity; zero or less removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := parseID(args[0], stringID)
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity must be an integer: %q", args[1])
			}
			return rootOpts.withProvider(cmd, func(ctx context.Context, p *client.Provider) error {
				st, err := p.UpdateQuantity(ctx, id, quantity)
				if err != nil {
					return err
				}
				return writeState(cmd, rootOpts.Format, st)
			})
		},
	}
	cmd.Flags().BoolVar(&stringID, "string-id", false, "send a numeric looking id as a string")
	return cmd
}

func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProvider(cmd, func(ctx context.Context, p *client.Provider) error {
				st, err := p.ClearCart(ctx)
				if err != nil {
					return err
				}
				return writeState(cmd, rootOpts.Format, st)
			})
		},
	}
}

func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the cart with current catalog data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProvider(cmd, func(ctx context.Context, p *client.Provider) error {
				v, err := p.View(ctx)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd, v)
				}
				if err := writeLines(cmd, v.Items); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "total %d (enriched: %t)\n", v.Count, v.Enriched)
				return err
			})
		},
	}
}

// parseID treats integer arguments as numeric ids unless forced to a string.
func parseID(arg string, forceString bool) cart.ID {
	if !forceString {
		if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
			return cart.NumberID(n)
		}
	}
	return cart.StringID(arg)
}
