package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fixmart-dev/fixmart/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the fixmart command tree
func NewRootCmd(opts *commands.Options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fixmart",
		Short: "FixMart - marketplace for used devices and repairs",
		Long: `FixMart CLI - browse listings and manage your marketplace account.

Authenticate once with 'fixmart login'; the access token is kept in the
operating system keychain.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.APIURL, "api", "", "API base URL (or set FIXMART_API_URL)")

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(opts.Out, "fixmart version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(commands.NewLoginCmd(opts))
	rootCmd.AddCommand(commands.NewLogoutCmd(opts))
	rootCmd.AddCommand(commands.NewWhoAmICmd(opts))
	rootCmd.AddCommand(commands.NewProductsCmd(opts))
	rootCmd.AddCommand(commands.NewOffersCmd(opts))
	rootCmd.AddCommand(commands.NewStatsCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd(commands.NewOptions()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
