package auth

import (
	"fmt"
	"net/http"
	"os"

	"github.com/crucial707/chaos-scheduler/cmd/cli/client"
	"github.com/crucial707/chaos-scheduler/cmd/cli/config"
	"github.com/spf13/cobra"
)

// InitAuth registers login and logout on the root command.
func InitAuth(rootCmd *cobra.Command) {
	rootCmd.AddCommand(loginCmd(), logoutCmd())
}

// loginCmd logs in and stores the JWT locally.
func loginCmd() *cobra.Command {
	var (
		username string
		password string
		role     string
		register bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the chaos scheduler API",
		Long:  "Authenticate with the API and store a JWT for subsequent commands. The password may also come from CHAOS_PASSWORD.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return fmt.Errorf("username is required")
			}
			if password == "" {
				password = os.Getenv("CHAOS_PASSWORD")
			}
			creds := map[string]string{"username": username, "password": password}

			if register {
				creds["role"] = role
				if err := client.Do(cmd.Context(), http.MethodPost, "/auth/register", creds, nil, true); err != nil {
					return fmt.Errorf("failed to register user: %w", err)
				}
			}

			var loginResp struct {
				Token string `json:"token"`
				User  struct {
					Role string `json:"role"`
				} `json:"user"`
			}
			if err := client.Do(cmd.Context(), http.MethodPost, "/auth/login", creds, &loginResp, true); err != nil {
				return fmt.Errorf("failed to login: %w", err)
			}
			if loginResp.Token == "" {
				return fmt.Errorf("login succeeded but no token returned")
			}
			if err := config.SaveToken(loginResp.Token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s). Token stored locally.\n", username, loginResp.User.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "username to authenticate as")
	cmd.Flags().StringVar(&password, "password", "", "password (or CHAOS_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", "viewer", "role when registering: viewer or operator")
	cmd.Flags().BoolVar(&register, "register", false, "register the user before logging in")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RemoveToken(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}
