package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fixmart-dev/fixmart/internal/cli/auth"
	"github.com/fixmart-dev/fixmart/internal/cli/client"
)

const defaultAPIURL = "http://localhost:8080"

// Options are shared by every command
type Options struct {
	APIURL string // --api flag, falls back to FIXMART_API_URL
	Store  auth.TokenStore
	Out    io.Writer
}

// NewOptions returns options backed by the OS keyring and stdout
func NewOptions() *Options {
	return &Options{Store: auth.Default, Out: os.Stdout}
}

func (o *Options) apiURL() string {
	if o.APIURL != "" {
		return o.APIURL
	}
	if env := os.Getenv("FIXMART_API_URL"); env != "" {
		return env
	}
	return defaultAPIURL
}

// authenticatedClient returns an API client carrying the stored token.
// This is common logic used by most commands.
func (o *Options) authenticatedClient() (*client.Client, error) {
	token, err := o.Store.LoadToken(o.apiURL())
	if err != nil {
		return nil, err
	}

	apiClient := client.New(o.apiURL())
	apiClient.SetToken(token)
	return apiClient, nil
}

// explain turns an expired session into an actionable message
func explain(err error) error {
	if client.IsReason(err, "unauthenticated") {
		return fmt.Errorf("%w\nYour session has expired. Run 'fixmart login' again", err)
	}
	return err
}

func formatCents(cents int64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
