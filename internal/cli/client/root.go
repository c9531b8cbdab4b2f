package client

import (
	"github.com/spf13/cobra"
)

// NewRootCmd assembles the outreach client command tree.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "outreach",
		Short: "Outreach CLI - feed knowledge and run outreach campaigns",
		Long: `Outreach CLI manages the offer, knowledge documents and campaigns of an organization.

Environment variables:
  OUTREACH_API_KEY   API key for authentication
  OUTREACH_API_URL   API base URL (default: http://localhost:8080)`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env and config)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")

	rootCmd.AddCommand(AuthCmd())
	rootCmd.AddCommand(OfferCmd())
	rootCmd.AddCommand(DocsCmd())
	rootCmd.AddCommand(CampaignsCmd())

	return rootCmd
}
