package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fixmart-dev/fixmart/internal/cli/client"
)

// loginAPI is the part of the API client used by login
type loginAPI interface {
	Login(email, password string) (*client.LoginResponse, error)
}

// prompter asks for credentials that were not passed as flags
type prompter interface {
	Email() (string, error)
	Password() (string, error)
}

// NewLoginCmd creates the login command
func NewLoginCmd(opts *Options) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with a FixMart API",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p prompter
			if term.IsTerminal(int(os.Stdin.Fd())) {
				p = terminalPrompter{}
			}
			return runLogin(opts, client.New(opts.apiURL()), p, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set FIXMART_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set FIXMART_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(opts *Options, api loginAPI, p prompter, email, password string) error {
	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("FIXMART_EMAIL")
	}
	if password == "" {
		password = os.Getenv("FIXMART_PASSWORD")
	}

	var err error
	if email == "" {
		if p == nil {
			return fmt.Errorf("email is required (use --email flag or FIXMART_EMAIL env var)")
		}
		if email, err = p.Email(); err != nil {
			return fmt.Errorf("failed to read email: %w", err)
		}
	}
	if password == "" {
		if p == nil {
			return fmt.Errorf("password is required in non-interactive mode (use --password flag or FIXMART_PASSWORD env var)")
		}
		if password, err = p.Password(); err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
	}

	fmt.Fprintf(opts.Out, "Logging in to %s...\n", opts.apiURL())

	loginResp, err := api.Login(email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := opts.Store.SaveToken(opts.apiURL(), loginResp.Session.Token); err != nil {
		return fmt.Errorf("failed to save authentication token: %w", err)
	}

	fmt.Fprintln(opts.Out, "✓ Login successful!")
	fmt.Fprintf(opts.Out, "  User: %s (%s)\n", displayName(loginResp.User), loginResp.User.Email)
	fmt.Fprintf(opts.Out, "  Account type: %s\n", loginResp.User.UserType)
	if loginResp.User.IsAdmin {
		fmt.Fprintln(opts.Out, "  Role: Admin")
	}

	return nil
}

func displayName(user client.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.ID
}

// terminalPrompter reads credentials interactively
type terminalPrompter struct{}

func (terminalPrompter) Email() (string, error) {
	prompt := promptui.Prompt{
		Label: "Email",
		Validate: func(input string) error {
			if !strings.Contains(input, "@") {
				return errors.New("enter a valid email address")
			}
			return nil
		},
	}
	return prompt.Run()
}

func (terminalPrompter) Password() (string, error) {
	prompt := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(input string) error {
			if input == "" {
				return errors.New("password is required")
			}
			return nil
		},
	}
	return prompt.Run()
}
