package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/drunlade/go-esimdl/internal/tokenstore"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the saved API token",
	}
	cmd.AddCommand(tokenSetCmd(), tokenShowCmd(), tokenClearCmd())
	return cmd
}

func tokenSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [token]",
		Short: "Save the API token (prompts when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				if !stdinIsTerminal() {
					return errors.New("token argument is required when stdin is not a terminal")
				}
				fmt.Fprint(os.Stderr, "API token: ")
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				token = string(b)
			}

			store := tokenStore()
			if err := store.Save(token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", store.Path())
			return nil
		},
	}
}

func tokenShowCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the token in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, source := strings.TrimSpace(cfg.Auth.Token), "configuration"
			if token == "" {
				t, err := tokenStore().Load()
				if errors.Is(err, tokenstore.ErrNoToken) {
					fmt.Fprintln(cmd.OutOrStdout(), "No token configured")
					return nil
				}
				if err != nil {
					return err
				}
				token, source = t, tokenStore().Path()
			}
			if !reveal {
				token = tokenstore.Mask(token)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (from %s)\n", token, source)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the token unmasked")
	return cmd
}

func tokenClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := tokenStore()
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token removed from %s\n", store.Path())
			return nil
		},
	}
}
