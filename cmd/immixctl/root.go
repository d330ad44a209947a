package main

import (
	"fmt"
	"io"
	"os"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/immix/heap"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose bool
	jsonOut bool

	// Heap geometry
	capacityBlocks int
	lineSize       int
	linesPerBlock  int
)

var rootCmd = &cobra.Command{
	Use:   "immixctl",
	Short: "Exercise and inspect an immix block heap",
	Long: `immixctl builds a block heap over a reserved address range and drives it
through its allocation tiers, printing the resulting block layout.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log heap events at debug level")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	rootCmd.PersistentFlags().IntVar(&capacityBlocks, "blocks", 1024, "Heap capacity in blocks")
	rootCmd.PersistentFlags().IntVar(&lineSize, "line-size", heap.DefaultLineSize, "Line size in bytes")
	rootCmd.PersistentFlags().IntVar(&linesPerBlock, "lines-per-block", heap.DefaultLinesPerBlock, "Lines per block")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(w))
}

// printJSON streams one JSON document built by write to w
func printJSON(w io.Writer, write func(writer *jwriter.Writer)) error {
	writer := jwriter.NewWriter()
	write(&writer)
	if err := writer.Error(); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w, string(writer.Bytes()))
	return err
}
