package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run one incremental indexing pass",
	Long: `Diff the source tree against the vector index, embed new and changed
chunks through the embedding server, and persist the result. Interrupting
the run keeps completed work; the next run resumes from the checkpoint.`,
	Run: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) {
	start := time.Now()
	e := mustEngine()
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.coord.Run(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Indexing interrupted; progress checkpointed")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	status := e.coord.Status()
	fmt.Printf("Indexed %d vectors in %s\n", status.IndexedVectors, time.Since(start).Round(time.Millisecond))
}
