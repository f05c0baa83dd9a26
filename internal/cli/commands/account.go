package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(opts)
		},
	}
}

func runLogout(opts *Options) error {
	apiClient, err := opts.authenticatedClient()
	if err != nil {
		fmt.Fprintln(opts.Out, "Not logged in.")
		return nil
	}

	// The local token is removed even when the API cannot be reached
	if err := apiClient.Logout(); err != nil {
		fmt.Fprintf(opts.Out, "Warning: failed to end the session on the server: %v\n", err)
	}

	if err := opts.Store.DeleteToken(opts.apiURL()); err != nil {
		return err
	}

	fmt.Fprintln(opts.Out, "✓ Logged out")
	return nil
}

// NewWhoAmICmd creates the whoami command
func NewWhoAmICmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoAmI(opts)
		},
	}
}

func runWhoAmI(opts *Options) error {
	apiClient, err := opts.authenticatedClient()
	if err != nil {
		return err
	}

	me, err := apiClient.Me()
	if err != nil {
		return explain(err)
	}

	fmt.Fprintf(opts.Out, "%s (%s)\n", displayName(me.User), me.User.Email)
	fmt.Fprintf(opts.Out, "  ID:           %s\n", me.User.ID)
	fmt.Fprintf(opts.Out, "  Account type: %s\n", me.User.UserType)
	fmt.Fprintf(opts.Out, "  Verified:     %t\n", me.User.Verified)
	if me.User.IsAdmin {
		fmt.Fprintln(opts.Out, "  Role:         Admin")
	}
	return nil
}
