package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the cached Google sign-in",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Google and cache the token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), settings, true)
		if err != nil {
			return err
		}
		defer a.Close()

		tok, err := a.auth.Token(cmd.Context(), true)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signed in; token valid until %s\n", tok.Expiry.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached Google token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), settings, false)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.auth.Invalidate(cmd.Context())
	},
}

func init() {
	authCmd.AddCommand(authLoginCmd, authLogoutCmd)
	rootCmd.AddCommand(authCmd)
}
