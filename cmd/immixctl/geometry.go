package main

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/immix"
)

func init() {
	rootCmd.AddCommand(newGeometryCmd())
}

func newGeometryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geometry",
		Short: "Print the block and line geometry of a heap",
		Long: `The geometry command prints the sizes derived from the heap flags without
reserving any memory.

Example:
  immixctl geometry --blocks 4096 --line-size 256`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGeometry(cmd.OutOrStdout())
		},
	}
	return cmd
}

type geometry struct {
	CapacityBlocks int
	LineSize       int
	LinesPerBlock  int
	BlockSize      int
	CapacityBytes  int
	LineCount      int
	MinHumongous   int
}

func computeGeometry() (geometry, error) {
	if err := immix.CheckPow2(lineSize, "line-size"); err != nil {
		return geometry{}, err
	}
	if err := immix.CheckPow2(linesPerBlock, "lines-per-block"); err != nil {
		return geometry{}, err
	}
	if capacityBlocks < 1 {
		return geometry{}, errors.Wrapf(immix.CapacityError, "blocks must be positive, got %d", capacityBlocks)
	}

	blockSize := lineSize * linesPerBlock
	return geometry{
		CapacityBlocks: capacityBlocks,
		LineSize:       lineSize,
		LinesPerBlock:  linesPerBlock,
		BlockSize:      blockSize,
		CapacityBytes:  blockSize * capacityBlocks,
		LineCount:      linesPerBlock * capacityBlocks,
		MinHumongous:   blockSize >> 1,
	}, nil
}

func runGeometry(out io.Writer) error {
	g, err := computeGeometry()
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(out, func(writer *jwriter.Writer) {
			obj := writer.Object()
			defer obj.End()

			obj.Name("CapacityBlocks").Int(g.CapacityBlocks)
			obj.Name("LineSize").Int(g.LineSize)
			obj.Name("LinesPerBlock").Int(g.LinesPerBlock)
			obj.Name("BlockSize").Int(g.BlockSize)
			obj.Name("CapacityBytes").Int(g.CapacityBytes)
			obj.Name("LineCount").Int(g.LineCount)
			obj.Name("MinHumongous").Int(g.MinHumongous)
		})
	}

	fmt.Fprintf(out, "Blocks:          %d\n", g.CapacityBlocks)
	fmt.Fprintf(out, "Block size:      %d bytes\n", g.BlockSize)
	fmt.Fprintf(out, "Line size:       %d bytes\n", g.LineSize)
	fmt.Fprintf(out, "Lines per block: %d\n", g.LinesPerBlock)
	fmt.Fprintf(out, "Capacity:        %d bytes\n", g.CapacityBytes)
	fmt.Fprintf(out, "Line markers:    %d\n", g.LineCount)
	fmt.Fprintf(out, "Humongous from:  %d bytes\n", g.MinHumongous)
	return nil
}
