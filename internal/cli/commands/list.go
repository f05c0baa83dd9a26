package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fixmart-dev/fixmart/internal/cli/client"
)

// NewProductsCmd creates the products command
func NewProductsCmd(opts *Options) *cobra.Command {
	var filter client.ProductFilter

	cmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"ls"},
		Short:   "List marketplace listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProducts(opts, client.New(opts.apiURL()), filter)
		},
	}

	cmd.Flags().StringVar(&filter.Category, "category", "", "Only show this category")
	cmd.Flags().StringVarP(&filter.Query, "query", "q", "", "Search titles and descriptions")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Listing status (active, reserved, sold, archived)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum number of listings")

	return cmd
}

type productLister interface {
	ListProducts(filter client.ProductFilter) ([]client.Product, error)
}

func runProducts(opts *Options, api productLister, filter client.ProductFilter) error {
	products, err := api.ListProducts(filter)
	if err != nil {
		return err
	}

	if len(products) == 0 {
		fmt.Fprintln(opts.Out, "No listings found.")
		return nil
	}

	w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPRICE\tCONDITION\tSTATUS")
	fmt.Fprintln(w, "──\t─────\t─────\t─────────\t──────")

	for _, product := range products {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			product.ID,
			product.Title,
			formatCents(product.PriceCents, product.Currency),
			product.Condition,
			product.Status,
		)
	}

	return w.Flush()
}

// NewOffersCmd creates the offers command
func NewOffersCmd(opts *Options) *cobra.Command {
	var role, status string

	cmd := &cobra.Command{
		Use:   "offers",
		Short: "List offers you made or received",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := opts.authenticatedClient()
			if err != nil {
				return err
			}
			return runOffers(opts, apiClient, role, status)
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "buyer or seller (default both)")
	cmd.Flags().StringVar(&status, "status", "", "Offer status (pending, accepted, rejected, withdrawn, expired)")

	return cmd
}

type offerLister interface {
	ListOffers(role, status string) ([]client.Offer, error)
}

func runOffers(opts *Options, api offerLister, role, status string) error {
	offers, err := api.ListOffers(role, status)
	if err != nil {
		return explain(err)
	}

	if len(offers) == 0 {
		fmt.Fprintln(opts.Out, "No offers found.")
		return nil
	}

	w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRODUCT\tAMOUNT\tSTATUS\tEXPIRES")
	fmt.Fprintln(w, "──\t───────\t──────\t──────\t───────")

	for _, offer := range offers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			offer.ID,
			offer.ProductID,
			formatCents(offer.AmountCents, ""),
			offer.Status,
			offer.ExpiresAt.Local().Format(time.DateTime),
		)
	}

	return w.Flush()
}

// NewStatsCmd creates the admin stats command
func NewStatsCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show marketplace statistics (admins only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiClient, err := opts.authenticatedClient()
			if err != nil {
				return err
			}

			stats, err := apiClient.Stats()
			if err != nil {
				if client.IsReason(err, "forbidden_role") {
					return fmt.Errorf("stats are only available to admins")
				}
				return explain(err)
			}

			fmt.Fprintf(opts.Out, "API version %s, up %s, %d goroutines\n\n", stats.Version, stats.Uptime, stats.Goroutines)

			keys := make([]string, 0, len(stats.Marketplace))
			for key := range stats.Marketplace {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(opts.Out, 0, 0, 2, ' ', 0)
			for _, key := range keys {
				fmt.Fprintf(w, "%s\t%d\n", key, stats.Marketplace[key])
			}
			return w.Flush()
		},
	}
}
