package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"carto/internal/jobs"
)

var (
	jobsFormat    string
	jobsLimit     int
	jobsStatus    string
	jobsRetention time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect indexing job history",
	Long: `List past and active indexing jobs, or prune old records.

Examples:
  carto jobs list
  carto jobs list --status=failed
  carto jobs cancel 4f7c1b2e-...
  carto jobs cleanup --retention=168h`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent indexing jobs",
	Run:   runJobsList,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running indexing job",
	Args:  cobra.ExactArgs(1),
	Run:   runJobsCancel,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove finished jobs older than the retention window",
	Run:   runJobsCleanup,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsFormat, "format", "human", "Output format (json, human)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to return")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (queued, running, completed, failed, cancelled)")

	jobsCleanupCmd.Flags().DurationVar(&jobsRetention, "retention", 7*24*time.Hour, "Keep finished jobs newer than this")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, args []string) {
	e := mustEngine()
	defer e.close()

	opts := jobs.ListOptions{Limit: jobsLimit}
	if jobsStatus != "" {
		opts.Status = []jobs.Status{jobs.Status(jobsStatus)}
	}

	list, total, err := e.jobs.ListJobs(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jobsFormat == "json" {
		out, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(list) == 0 {
		fmt.Println("No jobs")
		return
	}
	for _, job := range list {
		fmt.Printf("%-36s  %-10s  %5d/%-5d  %s\n",
			job.ID, job.Status, job.ProcessedChunks, job.TotalChunks,
			job.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("(%d of %d jobs)\n", len(list), total)
}

func runJobsCancel(cmd *cobra.Command, args []string) {
	e := mustEngine()
	defer e.close()

	job, err := e.jobs.GetJob(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if job == nil {
		fmt.Fprintf(os.Stderr, "Error: no job with id %s\n", args[0])
		os.Exit(1)
	}
	if job.IsTerminal() {
		fmt.Fprintf(os.Stderr, "Error: job %s is already %s\n", job.ID, job.Status)
		os.Exit(1)
	}

	if job.RemoteID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.client.Cancel(ctx, job.RemoteID); err != nil {
			// The local record still flips; the server prunes dead jobs itself.
			fmt.Fprintf(os.Stderr, "Warning: could not cancel remote job: %v\n", err)
		}
	}

	job.Status = jobs.StatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	if err := e.jobs.UpdateJob(job); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Cancelled job %s\n", job.ID)
}

func runJobsCleanup(cmd *cobra.Command, args []string) {
	e := mustEngine()
	defer e.close()

	removed, err := e.jobs.CleanupOldJobs(jobsRetention)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d old jobs\n", removed)
}
