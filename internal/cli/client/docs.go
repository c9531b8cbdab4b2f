package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Document is a knowledge document as returned by the API.
type Document struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content,omitempty"`
	FileRef     string `json:"fileRef,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	MaxDepth    int    `json:"maxDepth,omitempty"`
	MaxPages    int    `json:"maxPages,omitempty"`
	Status      string `json:"status"`
	ChunkCount  int    `json:"chunkCount,omitempty"`
	Error       string `json:"error,omitempty"`
	Generation  int64  `json:"generation"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// Settled reports whether processing of the current generation finished.
func (d *Document) Settled() bool {
	return d.Status == "embedded" || d.Status == "failed"
}

type documentList struct {
	Items   []Document `json:"items"`
	Cursor  string     `json:"cursor"`
	HasMore bool       `json:"hasMore"`
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	Content     string `json:"content"`
	TokenLength int    `json:"tokenLength"`
	Embedded    bool   `json:"embedded"`
	Generation  int64  `json:"generation"`
}

// DocsCmd creates the docs parent command.
func DocsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "docs",
		Aliases: []string{"documents"},
		Short:   "Manage knowledge documents",
		Long:    "Upload files, crawl websites, and inspect the documents that feed outreach emails.",
	}

	cmd.AddCommand(docsUploadCmd())
	cmd.AddCommand(docsCrawlCmd())
	cmd.AddCommand(docsGetCmd())
	cmd.AddCommand(docsListCmd())
	cmd.AddCommand(docsChunksCmd())
	cmd.AddCommand(docsReprocessCmd())
	cmd.AddCommand(docsDeleteCmd())

	return cmd
}

func docsUploadCmd() *cobra.Command {
	var (
		title, description string
		presign, wait      bool
	)

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and submit it for embedding",
		Long:  "Stores the file, then creates an upload document. Use --presign to PUT large files straight to storage.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			path := args[0]

			var fileRef string
			if presign {
				fileRef, err = api.PresignAndUpload(ctx, path, uploadProgress(cmd.ErrOrStderr()))
				fmt.Fprintln(cmd.ErrOrStderr())
			} else {
				fileRef, err = api.UploadFile(ctx, path)
			}
			if err != nil {
				return fmt.Errorf("failed to upload file: %w", err)
			}

			if title == "" {
				title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}
			var doc Document
			err = api.Post(ctx, "/documents/upload", map[string]string{
				"title":       title,
				"description": description,
				"fileRef":     fileRef,
			}, &doc)
			if err != nil {
				return fmt.Errorf("failed to submit upload: %w", err)
			}
			return finishSubmission(cmd, api, &doc, wait)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (defaults to the file name)")
	cmd.Flags().StringVar(&description, "description", "", "Document description")
	cmd.Flags().BoolVar(&presign, "presign", false, "Upload through a presigned URL instead of the API")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the document is embedded or failed")

	return cmd
}

func docsCrawlCmd() *cobra.Command {
	var (
		title, description string
		maxDepth, maxPages int
		wait               bool
	)

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a website and submit its pages for embedding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if title == "" {
				if u, err := url.Parse(args[0]); err == nil && u.Host != "" {
					title = u.Host
				} else {
					title = args[0]
				}
			}

			var doc Document
			err = api.Post(cmd.Context(), "/documents/crawl", map[string]any{
				"title":       title,
				"description": description,
				"url":         args[0],
				"maxDepth":    maxDepth,
				"maxPages":    maxPages,
			}, &doc)
			if err != nil {
				return fmt.Errorf("failed to submit crawl: %w", err)
			}
			return finishSubmission(cmd, api, &doc, wait)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (defaults to the host)")
	cmd.Flags().StringVar(&description, "description", "", "Document description")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Link depth to follow from the root page (server default when 0)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "Maximum pages to fetch (server default when 0)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the document is embedded or failed")

	return cmd
}

func docsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <document_id>",
		Short: "Show a document and its processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var doc Document
			if err := api.Get(cmd.Context(), "/documents/"+url.PathEscape(args[0]), &doc); err != nil {
				return fmt.Errorf("failed to get document: %w", err)
			}
			return printDocument(cmd, &doc)
		},
	}
}

func docsListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents of the organization",
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
			var list documentList
			if err := api.Get(cmd.Context(), "/documents?"+query.Encode(), &list); err != nil {
				return fmt.Errorf("failed to list documents: %w", err)
			}

			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), list)
			}
			out := cmd.OutOrStdout()
			if len(list.Items) == 0 {
				fmt.Fprintln(out, "No documents found")
				return nil
			}
			for _, d := range list.Items {
				fmt.Fprintf(out, "  %s  %-7s %-10s %s\n", d.ID, d.Kind, d.Status, d.Title)
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

func docsChunksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chunks <document_id>",
		Short: "List the chunks of a document's current generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var chunks []Chunk
			if err := api.Get(cmd.Context(), "/documents/"+url.PathEscape(args[0])+"/chunks", &chunks); err != nil {
				return fmt.Errorf("failed to list chunks: %w", err)
			}

			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), chunks)
			}
			out := cmd.OutOrStdout()
			if len(chunks) == 0 {
				fmt.Fprintln(out, "No chunks")
				return nil
			}
			for _, c := range chunks {
				embedded := "no vector"
				if c.Embedded {
					embedded = "embedded"
				}
				fmt.Fprintf(out, "#%d (%d tokens, %s)\n%s\n\n", c.Index, c.TokenLength, embedded, c.Content)
			}
			return nil
		},
	}
}

func docsReprocessCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "reprocess <document_id>",
		Short: "Submit a new generation of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var doc Document
			if err := api.Post(cmd.Context(), "/documents/"+url.PathEscape(args[0])+"/reprocess", nil, &doc); err != nil {
				return fmt.Errorf("failed to reprocess document: %w", err)
			}
			return finishSubmission(cmd, api, &doc, wait)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the document is embedded or failed")

	return cmd
}

func docsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document_id>",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if err := api.Delete(cmd.Context(), "/documents/"+url.PathEscape(args[0])); err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), map[string]any{"id": args[0], "deleted": true})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document %s deleted\n", args[0])
			return nil
		},
	}
}

// pollInterval is how often --wait re-reads a document or campaign
var pollInterval = 2 * time.Second

func finishSubmission(cmd *cobra.Command, api *APIClient, doc *Document, wait bool) error {
	if wait {
		settled, err := waitForDocument(cmd.Context(), api, doc.ID, pollInterval)
		if err != nil {
			return err
		}
		doc = settled
	}
	return printDocument(cmd, doc)
}

// waitForDocument polls until the document's current generation settles.
func waitForDocument(ctx context.Context, api *APIClient, id string, interval time.Duration) (*Document, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var doc Document
		if err := api.Get(ctx, "/documents/"+url.PathEscape(id), &doc); err != nil {
			return nil, fmt.Errorf("failed to poll document: %w", err)
		}
		if doc.Settled() {
			return &doc, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printDocument(cmd *cobra.Command, doc *Document) error {
	if wantJSON(cmd) {
		return printJSON(cmd.OutOrStdout(), doc)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID: %s\n", doc.ID)
	fmt.Fprintf(out, "Kind: %s\n", doc.Kind)
	fmt.Fprintf(out, "Title: %s\n", doc.Title)
	fmt.Fprintf(out, "Status: %s (generation %d)\n", doc.Status, doc.Generation)
	if doc.ChunkCount > 0 {
		fmt.Fprintf(out, "Chunks: %d\n", doc.ChunkCount)
	}
	if doc.SourceURL != "" {
		fmt.Fprintf(out, "Source: %s (depth %d, pages %d)\n", doc.SourceURL, doc.MaxDepth, doc.MaxPages)
	}
	if doc.FileRef != "" {
		fmt.Fprintf(out, "File: %s\n", doc.FileRef)
	}
	if doc.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", doc.Error)
	}
	fmt.Fprintf(out, "Updated: %s\n", doc.UpdatedAt)
	return nil
}

func uploadProgress(w io.Writer) ProgressFunc {
	return func(current, total int64) {
		if total > 0 {
			fmt.Fprintf(w, "\rUploading... %d%%", current*100/total)
		}
	}
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("output")
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readText(path string, stdin io.Reader) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
