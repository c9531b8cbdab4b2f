package client

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// OfferCmd creates the offer parent command.
func OfferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offer",
		Short: "Manage the organization's offer",
		Long:  "The offer is the single document describing what the organization sells. Saving it replaces the previous text.",
	}

	cmd.AddCommand(offerSaveCmd())
	cmd.AddCommand(offerGetCmd())

	return cmd
}

func offerSaveCmd() *cobra.Command {
	var (
		file, title, description string
		wait                     bool
	)

	cmd := &cobra.Command{
		Use:   "save [text]",
		Short: "Save the offer text and submit it for embedding",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			switch {
			case file != "" && len(args) > 0:
				return fmt.Errorf("pass the offer text or --file, not both")
			case file != "":
				var err error
				if text, err = readText(file, cmd.InOrStdin()); err != nil {
					return err
				}
			case len(args) == 1:
				text = args[0]
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("offer text is empty")
			}

			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var doc Document
			err = api.Put(cmd.Context(), "/offer", map[string]string{
				"offerText":   text,
				"title":       title,
				"description": description,
			}, &doc)
			if err != nil {
				return fmt.Errorf("failed to save offer: %w", err)
			}
			return finishSubmission(cmd, api, &doc, wait)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the offer text from a file ('-' for stdin)")
	cmd.Flags().StringVar(&title, "title", "", "Offer title")
	cmd.Flags().StringVar(&description, "description", "", "Offer description")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the offer is embedded or failed")

	return cmd
}

func offerGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the saved offer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var doc Document
			if err := api.Get(cmd.Context(), "/offer", &doc); err != nil {
				return fmt.Errorf("failed to get offer: %w", err)
			}
			if err := printDocument(cmd, &doc); err != nil {
				return err
			}
			if !wantJSON(cmd) && doc.Content != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", doc.Content)
			}
			return nil
		},
	}
}
