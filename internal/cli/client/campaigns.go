package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// Campaign is a campaign as returned by the API.
type Campaign struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Queries     []string         `json:"queries"`
	Status      string           `json:"status"`
	Progress    CampaignProgress `json:"progress"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
}

type CampaignProgress struct {
	ScrapingStatus     string `json:"scrapingStatus,omitempty"`
	CurrentQueryIndex  int    `json:"currentQueryIndex"`
	TotalQueries       int    `json:"totalQueries"`
	ProcessedCompanies int    `json:"processedCompanies"`
	Error              string `json:"error,omitempty"`
	CompletedAt        string `json:"completedAt,omitempty"`
}

// Finished reports whether the campaign reached a terminal status.
func (c *Campaign) Finished() bool {
	return c.Status == "completed" || c.Status == "failed"
}

type campaignList struct {
	Items   []Campaign `json:"items"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"hasMore"`
}

// CampaignsCmd creates the campaigns parent command.
func CampaignsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "Manage outreach campaigns",
		Long:  "Create campaigns from search queries and activate them to start scraping.",
	}

	cmd.AddCommand(campaignsCreateCmd())
	cmd.AddCommand(campaignsActivateCmd())
	cmd.AddCommand(campaignsGetCmd())
	cmd.AddCommand(campaignsListCmd())

	return cmd
}

func campaignsCreateCmd() *cobra.Command {
	var (
		name, description string
		queries           []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var campaign Campaign
			err = api.Post(cmd.Context(), "/campaigns", map[string]any{
				"name":        name,
				"description": description,
				"queries":     queries,
			}, &campaign)
			if err != nil {
				return fmt.Errorf("failed to create campaign: %w", err)
			}
			return printCampaign(cmd, &campaign)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Campaign name (required)")
	cmd.Flags().StringVar(&description, "description", "", "Campaign description")
	cmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "Search query; repeat for several (at least one)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("query")

	return cmd
}

func campaignsActivateCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "activate <campaign_id>",
		Short: "Activate a draft campaign and start scraping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var campaign Campaign
			if err := api.Post(cmd.Context(), "/campaigns/"+url.PathEscape(args[0])+"/activate", nil, &campaign); err != nil {
				return fmt.Errorf("failed to activate campaign: %w", err)
			}
			if wait {
				finished, err := waitForCampaign(cmd.Context(), api, campaign.ID, pollInterval)
				if err != nil {
					return err
				}
				campaign = *finished
			}
			return printCampaign(cmd, &campaign)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until scraping completes or fails")

	return cmd
}

func campaignsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <campaign_id>",
		Short: "Show a campaign and its scraping progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var campaign Campaign
			if err := api.Get(cmd.Context(), "/campaigns/"+url.PathEscape(args[0]), &campaign); err != nil {
				return fmt.Errorf("failed to get campaign: %w", err)
			}
			return printCampaign(cmd, &campaign)
		},
	}
}

func campaignsListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns of the organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}

			query := url.Values{}
			query.Set("limit", fmt.Sprint(limit))
			if cursor != "" {
				query.Set("cursor", cursor)
			}
			var list campaignList
			if err := api.Get(cmd.Context(), "/campaigns?"+query.Encode(), &list); err != nil {
				return fmt.Errorf("failed to list campaigns: %w", err)
			}

			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), list)
			}
			out := cmd.OutOrStdout()
			if len(list.Items) == 0 {
				fmt.Fprintln(out, "No campaigns found")
				return nil
			}
			for _, c := range list.Items {
				fmt.Fprintf(out, "  %s  %-9s %s\n", c.ID, c.Status, c.Name)
			}
			if list.HasMore && list.Cursor != "" {
				fmt.Fprintf(out, "\nMore results available. Use --cursor %s\n", list.Cursor)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func waitForCampaign(ctx context.Context, api *APIClient, id string, interval time.Duration) (*Campaign, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var campaign Campaign
		if err := api.Get(ctx, "/campaigns/"+url.PathEscape(id), &campaign); err != nil {
			return nil, fmt.Errorf("failed to poll campaign: %w", err)
		}
		if campaign.Finished() {
			return &campaign, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printCampaign(cmd *cobra.Command, c *Campaign) error {
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), c)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID: %s\n", c.ID)
	fmt.Fprintf(out, "Name: %s\n", c.Name)
	fmt.Fprintf(out, "Status: %s\n", c.Status)
	fmt.Fprintf(out, "Queries: %d\n", len(c.Queries))
	for i, q := range c.Queries {
		fmt.Fprintf(out, "  %d. %s\n", i+1, q)
	}
	if p := c.Progress; p.ScrapingStatus != "" {
		fmt.Fprintf(out, "Scraping: %s (query %d/%d, %d companies)\n",
			p.ScrapingStatus, p.CurrentQueryIndex, p.TotalQueries, p.ProcessedCompanies)
		if p.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", p.Error)
		}
		if p.CompletedAt != "" {
			fmt.Fprintf(out, "Completed: %s\n", p.CompletedAt)
		}
	}
	return nil
}
