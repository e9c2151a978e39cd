package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"carto/internal/persist"
	"carto/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the source tree and index changes continuously",
	Long: `Run an initial indexing pass, then watch the tree for changes. Each
debounced change batch invalidates the affected caches and triggers an
incremental pass. Snapshots written by other carto processes are merged
into the live index.`,
	Run: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	e := mustEngine()
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initial pass brings the index current before watching.
	if err := e.coord.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		return
	}

	w := watcher.New(e.cfg.RootPath, e.cfg.Watcher, e.logger, func(events []watcher.Event) {
		paths := make([]string, len(events))
		for i, ev := range events {
			paths[i] = ev.Path
		}
		if err := e.coord.OnChanges(ctx, paths); err != nil && ctx.Err() == nil {
			e.logger.Error("Incremental pass failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})

	if err := w.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting watcher: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = w.Stop() }()

	snapWatch, err := persist.WatchSnapshot(e.snapshots, e.coord.MergeSnapshot)
	if err != nil {
		e.logger.Warn("Snapshot watch unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		defer snapWatch.Stop()
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", e.cfg.RootPath)
	<-ctx.Done()
}
