// Package cli implements cartctl, a command line client for the cart
// service that behaves like one browser.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"erp/ecommerce/cart-service/internal/client"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	BaseURL string
	JarPath string
	Format  string // "json" | "text"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cartctl",
		Short: "Inspect and change a storefront cart",
		Long: `cartctl talks to the cart service the way a browser does. The session
cookie is kept in a jar file so consecutive invocations share one cart.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.BaseURL, "url", envOr("CART_URL", "http://localhost:8080"), "cart service base URL")
	cmd.PersistentFlags().StringVar(&opts.JarPath, "jar", defaultJarPath(), "cookie jar file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewViewCommand(opts))

	return cmd
}

// withProvider runs fn with a provider whose cookies are loaded from and
// saved back to the jar file.
func (o *RootOptions) withProvider(cmd *cobra.Command, fn func(ctx context.Context, p *client.Provider) error) error {
	jar, err := openFileJar(o.JarPath, o.BaseURL)
	if err != nil {
		return err
	}
	p, err := client.New(client.Options{BaseURL: o.BaseURL, Timeout: o.Timeout, Jar: jar})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, p)
	if err := jar.save(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultJarPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cartctl", "cookies.json")
	}
	return ".cartctl-cookies.json"
}
