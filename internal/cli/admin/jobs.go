package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloo-solutions/outreach/internal/domain"
	"github.com/cloo-solutions/outreach/internal/repository"
	"github.com/spf13/cobra"
)

var jobStatuses = []domain.JobStatus{
	domain.JobStatusQueued,
	domain.JobStatusRunning,
	domain.JobStatusSucceeded,
	domain.JobStatusDead,
}

func JobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job queue",
		Long:  "Show queue depth per lane and the job history of a document or campaign",
	}

	cmd.AddCommand(JobsStatsCmd())
	cmd.AddCommand(JobsListCmd())

	return cmd
}

func JobsStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per lane and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runJobsStats(cmd.Context(), outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runJobsStats(ctx context.Context, outputFormat string) error {
	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	counts, err := repository.NewJobRepository(pool).CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(counts, "", "  ")
		fmt.Println(string(jsonBytes))
		return nil
	}

	fmt.Printf("%-10s %8s %8s %10s %8s\n", "LANE", "QUEUED", "RUNNING", "SUCCEEDED", "DEAD")
	for _, lane := range domain.Lanes {
		row := counts[lane]
		fmt.Printf("%-10s %8d %8d %10d %8d\n", lane,
			row[jobStatuses[0]], row[jobStatuses[1]], row[jobStatuses[2]], row[jobStatuses[3]])
	}
	return nil
}

func JobsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <entity-id>",
		Short: "List the jobs submitted for a document or campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runJobsList(cmd.Context(), args[0], outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runJobsList(ctx context.Context, entityID, outputFormat string) error {
	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	list, err := repository.NewJobRepository(pool).ListByEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]any, len(list))
		for i, job := range list {
			data[i] = map[string]any{
				"id":        job.ID,
				"lane":      job.Lane,
				"status":    job.Status,
				"attempts":  job.Attempts,
				"lastError": job.LastError,
				"createdAt": job.CreatedAt,
			}
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
		return nil
	}

	if len(list) == 0 {
		fmt.Printf("No jobs found for %s\n", entityID)
		return nil
	}
	for _, job := range list {
		line := fmt.Sprintf("  %s: %s %s (attempt %d/%d)", job.ID, job.Lane, job.Status, job.Attempts, job.Policy.MaxAttempts)
		if job.LastError != "" {
			line += " last error: " + job.LastError
		}
		fmt.Println(line)
	}
	return nil
}
