package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"carto/internal/version"
)

var (
	// rootFlag is the CLI --root flag value
	rootFlag string
)

var rootCmd = &cobra.Command{
	Use:   "carto",
	Short: "carto - incremental semantic code index",
	Long: `carto maintains an incremental semantic index over a source tree: files are
parsed and chunked on change, chunks are embedded through a shared embedding
server, and the resulting vector index answers similarity searches. All state
lives under .carto/ in the tracked root.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("carto version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "",
		"Tracked source root (default: current directory)")
}

// resolveRoot determines the tracked root from the CLI flag, the CARTO_ROOT
// env var, or the working directory, in that order.
func resolveRoot() (string, error) {
	if rootFlag != "" {
		return filepath.Abs(rootFlag)
	}
	if env := os.Getenv("CARTO_ROOT"); env != "" {
		return filepath.Abs(env)
	}
	return os.Getwd()
}
