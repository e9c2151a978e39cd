package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"carto/internal/indexer"
	"carto/internal/version"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index and job status",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(statusCmd)
}

// statusResponse is the full status for CLI output.
type statusResponse struct {
	Version    string         `json:"version"`
	RootPath   string         `json:"rootPath"`
	Vectors    int            `json:"vectors"`
	Checkpoint *checkpointCLI `json:"checkpoint,omitempty"`
	Indexing   indexer.Status `json:"indexing"`
}

type checkpointCLI struct {
	JobID           string    `json:"jobId"`
	ProcessedChunks int       `json:"processedChunks"`
	TotalChunks     int       `json:"totalChunks"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func runStatus(cmd *cobra.Command, args []string) {
	e := mustEngine()
	defer e.close()

	resp := statusResponse{
		Version:  version.Version,
		RootPath: e.cfg.RootPath,
		Vectors:  e.index.Len(),
		Indexing: e.coord.Status(),
	}

	if cp, err := indexer.LoadCheckpoint(e.cfg.RootPath); err == nil && cp != nil {
		resp.Checkpoint = &checkpointCLI{
			JobID:           cp.LocalJobID,
			ProcessedChunks: cp.ProcessedChunks,
			TotalChunks:     cp.TotalChunks,
			UpdatedAt:       cp.UpdatedAt,
		}
	}

	if statusFormat == "json" {
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("carto %s\n", resp.Version)
	fmt.Printf("Root:    %s\n", resp.RootPath)
	fmt.Printf("Vectors: %d\n", resp.Vectors)
	if resp.Checkpoint != nil {
		fmt.Printf("Resume:  %d/%d chunks (checkpointed %s)\n",
			resp.Checkpoint.ProcessedChunks, resp.Checkpoint.TotalChunks,
			resp.Checkpoint.UpdatedAt.Format(time.RFC3339))
	} else {
		fmt.Println("Resume:  no pending run")
	}

	if resp.Indexing.Running {
		fmt.Printf("Run:     %.1f%% (%.1f chunks/s, ETA %s)\n",
			resp.Indexing.Percent, resp.Indexing.ChunksPerSec, resp.Indexing.ETA.Round(time.Second))
	}
}
