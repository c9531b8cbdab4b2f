package client

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// AuthCmd creates the auth parent command
func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication credentials",
		Long:  "Login, logout, and check authentication status for the outreach CLI",
	}

	cmd.AddCommand(AuthLoginCmd())
	cmd.AddCommand(AuthLogoutCmd())
	cmd.AddCommand(AuthStatusCmd())

	return cmd
}

// AuthLoginCmd creates the auth login command
func AuthLoginCmd() *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login with API key",
		Long:  "Store API key and URL in the global config (~/.config/outreach/config.json)",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey, _ := cmd.Flags().GetString("api-key")
			return runAuthLogin(cmd, apiKey, apiURL)
		},
	}

	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "API URL")

	return cmd
}

// AuthLogoutCmd creates the auth logout command
func AuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Logout and clear credentials",
		Long:  "Remove stored credentials from the global config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return fmt.Errorf("failed to logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged out")
			return nil
		},
	}
}

// AuthStatusCmd creates the auth status command
func AuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long:  "Display where the API key comes from and which API it targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			flagKey, _ := cmd.Flags().GetString("api-key")
			flagURL, _ := cmd.Flags().GetString("api-url")
			creds, err := ResolveCredentials(flagKey, flagURL)
			if err != nil {
				return err
			}
			return printStatus(cmd, creds)
		},
	}
}

func runAuthLogin(cmd *cobra.Command, apiKey, apiURL string) error {
	if apiKey == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter API key: ")
		input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read API key: %w", err)
		}
		apiKey = strings.TrimSpace(input)
	}

	if !IsValidAPIKey(apiKey) {
		return fmt.Errorf("invalid API key format (expected: %s + 64 hex characters)", apiKeyPrefix)
	}

	if err := SaveGlobalConfig(&GlobalConfig{APIKey: apiKey, APIURL: apiURL}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged in")
	return nil
}

func printStatus(cmd *cobra.Command, creds Credentials) error {
	authenticated := creds.Source != SourceNone

	if wantJSON(cmd) {
		status := map[string]any{
			"authenticated": authenticated,
			"source":        string(creds.Source),
			"apiUrl":        creds.APIURL,
		}
		if authenticated {
			status["apiKey"] = maskAPIKey(creds.APIKey)
		}
		return printJSON(cmd.OutOrStdout(), status)
	}

	out := cmd.OutOrStdout()
	if !authenticated {
		fmt.Fprintln(out, "Not authenticated")
		fmt.Fprintln(out, "Run 'outreach auth login' to authenticate")
		return nil
	}

	fmt.Fprintf(out, "Authenticated: yes\n")
	fmt.Fprintf(out, "Source: %s\n", creds.Source)
	fmt.Fprintf(out, "API Key: %s\n", maskAPIKey(creds.APIKey))
	fmt.Fprintf(out, "API URL: %s\n", creds.APIURL)
	return nil
}

func maskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
