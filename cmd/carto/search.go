package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	searchLimit  int
	searchFormat string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find chunks semantically similar to a query",
	Args:  cobra.ExactArgs(1),
	Run:   runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", 10, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	e := mustEngine()
	defer e.close()

	matches, err := e.coord.Search(context.Background(), args[0], searchLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if searchFormat == "json" {
		out, _ := json.MarshalIndent(matches, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(matches) == 0 {
		fmt.Println("No matches")
		return
	}
	for _, m := range matches {
		fmt.Printf("%.4f  %s\n", m.Score, m.ChunkID)
	}
}
