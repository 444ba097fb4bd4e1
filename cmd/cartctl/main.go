// Command cartctl is a command line client for the cart service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"erp/ecommerce/cart-service/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cartctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
