package admin

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/pagination"
	"github.com/spf13/cobra"
)

type apiKeyView struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"orgId"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	// Token is only set right after creation
	Token string `json:"token,omitempty"`
}

func newAPIKeyView(key *domain.APIKey) apiKeyView {
	return apiKeyView{
		ID:        key.ID,
		OrgID:     key.OrgID,
		Name:      key.Name,
		CreatedAt: key.CreatedAt,
		RevokedAt: key.RevokedAt,
	}
}

func (v apiKeyView) state() string {
	if v.RevokedAt != nil {
		return "revoked"
	}
	return "active"
}

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Issue, list and revoke the bearer tokens organizations use against the API",
	}

	cmd.PersistentFlags().String("output", "text", "Output format (text or json)")
	cmd.AddCommand(APIKeyCreateCmd())
	cmd.AddCommand(APIKeyListCmd())
	cmd.AddCommand(APIKeyRevokeCmd())

	return cmd
}

func APIKeyCreateCmd() *cobra.Command {
	var orgRef, name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for an organization",
		RunE: withAccounts(func(ctx context.Context, acc *accounts) error {
			return acc.createAPIKey(ctx, orgRef, name)
		}),
	}

	cmd.Flags().StringVarP(&orgRef, "org", "o", "", "Organization ID or name")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Key name, e.g. the integration using it")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func APIKeyListCmd() *cobra.Command {
	var (
		orgRef string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the API keys of an organization",
		RunE: withAccounts(func(ctx context.Context, acc *accounts) error {
			return acc.listAPIKeys(ctx, orgRef, limit, cursor)
		}),
	}

	cmd.Flags().StringVarP(&orgRef, "org", "o", "", "Organization ID or name")
	cmd.Flags().IntVarP(&limit, "limit", "n", pagination.DefaultLimit, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor printed by the previous page")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func APIKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key. Requests carrying its token are rejected from then on.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(func(ctx context.Context, acc *accounts) error {
				return acc.revokeAPIKey(ctx, args[0])
			})(cmd, args)
		},
	}
}

func (a *accounts) createAPIKey(ctx context.Context, orgRef, name string) error {
	org, err := a.auth.ResolveOrg(ctx, orgRef)
	if err != nil {
		return fmt.Errorf("organization %q: %w", orgRef, err)
	}

	key, token, err := a.auth.IssueAPIKey(ctx, org.ID, name)
	if err != nil {
		return fmt.Errorf("issue API key: %w", err)
	}

	view := newAPIKeyView(key)
	view.Token = token
	return a.out.emit(view, func(w io.Writer) {
		fmt.Fprintf(w, "issued key %q for %s\nid:    %s\ntoken: %s\n", key.Name, org.Name, key.ID, token)
		fmt.Fprintln(w, "\nThe token cannot be shown again.")
	})
}

func (a *accounts) listAPIKeys(ctx context.Context, orgRef string, limit int, rawCursor string) error {
	org, err := a.auth.ResolveOrg(ctx, orgRef)
	if err != nil {
		return fmt.Errorf("organization %q: %w", orgRef, err)
	}

	cursor, err := pagination.DecodeCursor(rawCursor)
	if err != nil {
		return fmt.Errorf("invalid cursor: %w", err)
	}

	page, err := a.keys.ListByOrgWithCursor(ctx, org.ID, cursor, limit)
	if err != nil {
		return fmt.Errorf("list API keys: %w", err)
	}

	view := pageView[apiKeyView]{Items: make([]apiKeyView, 0, len(page.Items)), Cursor: page.NextCursor, HasMore: page.HasMore}
	for _, key := range page.Items {
		view.Items = append(view.Items, newAPIKeyView(key))
	}

	return a.out.emit(view, func(w io.Writer) {
		if len(view.Items) == 0 {
			fmt.Fprintf(w, "%s has no API keys\n", org.Name)
			return
		}
		fmt.Fprintf(w, "%-36s  %-7s  %-16s  %s\n", "ID", "STATE", "CREATED", "NAME")
		for _, key := range view.Items {
			fmt.Fprintf(w, "%-36s  %-7s  %-16s  %s\n", key.ID, key.state(), key.CreatedAt.UTC().Format(listTimeLayout), key.Name)
		}
		moreHint(w, view.HasMore, view.Cursor)
	})
}

func (a *accounts) revokeAPIKey(ctx context.Context, keyID string) error {
	if err := a.auth.RevokeAPIKey(ctx, keyID); err != nil {
		return fmt.Errorf("revoke API key %s: %w", keyID, err)
	}

	return a.out.emit(map[string]any{"id": keyID, "revoked": true}, func(w io.Writer) {
		fmt.Fprintf(w, "revoked key %s\n", keyID)
	})
}
