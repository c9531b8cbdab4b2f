package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cloo-solutions/outreach/internal/config"
	"github.com/cloo-solutions/outreach/internal/database"
	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/pagination"
	"github.com/cloo-solutions/outreach/internal/repository"
	"github.com/cloo-solutions/outreach/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const listTimeLayout = "2006-01-02 15:04"

// accountService is the part of service.AuthService the tenant commands use
type accountService interface {
	CreateOrg(ctx context.Context, name string) (*domain.Organization, error)
	ResolveOrg(ctx context.Context, ref string) (*domain.Organization, error)
	IssueAPIKey(ctx context.Context, orgID, name string) (*domain.APIKey, string, error)
	RevokeAPIKey(ctx context.Context, keyID string) error
}

type orgLister interface {
	ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*repository.OrgPageResult, error)
}

type apiKeyLister interface {
	ListByOrgWithCursor(ctx context.Context, orgID string, cursor *pagination.Cursor, limit int) (*repository.APIKeyPageResult, error)
}

// accounts bundles what the org and apikey commands need for one invocation
type accounts struct {
	auth accountService
	orgs orgLister
	keys apiKeyLister
	out  report
}

// report writes a command result either as indented JSON or as text
type report struct {
	w    io.Writer
	json bool
}

func (r report) emit(v any, text func(w io.Writer)) error {
	if !r.json {
		text(r.w)
		return nil
	}
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type orgView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func newOrgView(org *domain.Organization) orgView {
	return orgView{ID: org.ID, Name: org.Name, CreatedAt: org.CreatedAt}
}

type pageView[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"hasMore"`
}

func moreHint(w io.Writer, hasMore bool, cursor string) {
	if hasMore && cursor != "" {
		fmt.Fprintf(w, "\nnext page: --cursor %s\n", cursor)
	}
}

// withAccounts opens a short-lived pool for one admin command
func withAccounts(run func(ctx context.Context, acc *accounts) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("output")

		pool, err := getDBPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		orgRepo := repository.NewOrgRepository(pool)
		keyRepo := repository.NewAPIKeyRepository(pool)
		return run(ctx, &accounts{
			auth: service.NewAuthService(orgRepo, keyRepo, &service.DefaultUUIDGenerator{}),
			orgs: orgRepo,
			keys: keyRepo,
			out:  report{w: cmd.OutOrStdout(), json: format == "json"},
		})
	}
}

func OrgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
		Long:  "Create and list the organizations that own documents, campaigns and API keys",
	}

	cmd.PersistentFlags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.AddCommand(OrgCreateCmd())
	cmd.AddCommand(OrgListCmd())

	return cmd
}

func OrgCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(func(ctx context.Context, acc *accounts) error {
				return acc.createOrg(ctx, args[0])
			})(cmd, args)
		},
	}
}

func OrgListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List organizations, oldest first",
		RunE: withAccounts(func(ctx context.Context, acc *accounts) error {
			return acc.listOrgs(ctx, limit, cursor)
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", pagination.DefaultLimit, "Page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor printed by the previous page")

	return cmd
}

func (a *accounts) createOrg(ctx context.Context, name string) error {
	org, err := a.auth.CreateOrg(ctx, name)
	if err != nil {
		return fmt.Errorf("create organization: %w", err)
	}

	return a.out.emit(newOrgView(org), func(w io.Writer) {
		fmt.Fprintf(w, "created organization %q\nid: %s\n", org.Name, org.ID)
	})
}

func (a *accounts) listOrgs(ctx context.Context, limit int, rawCursor string) error {
	cursor, err := pagination.DecodeCursor(rawCursor)
	if err != nil {
		return fmt.Errorf("invalid cursor: %w", err)
	}

	page, err := a.orgs.ListWithCursor(ctx, cursor, limit)
	if err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}

	view := pageView[orgView]{Items: make([]orgView, 0, len(page.Items)), Cursor: page.NextCursor, HasMore: page.HasMore}
	for _, org := range page.Items {
		view.Items = append(view.Items, newOrgView(org))
	}

	return a.out.emit(view, func(w io.Writer) {
		if len(view.Items) == 0 {
			fmt.Fprintln(w, "no organizations")
			return
		}
		fmt.Fprintf(w, "%-36s  %-16s  %s\n", "ID", "CREATED", "NAME")
		for _, org := range view.Items {
			fmt.Fprintf(w, "%-36s  %-16s  %s\n", org.ID, org.CreatedAt.UTC().Format(listTimeLayout), org.Name)
		}
		moreHint(w, view.HasMore, view.Cursor)
	})
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: 2})
}
