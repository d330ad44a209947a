package main

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/immix"
	"golang.org/x/exp/slog"
)

func withGeometry(t *testing.T, blocks, line, lines int, asJSON bool) {
	oldBlocks, oldLine, oldLines, oldJSON := capacityBlocks, lineSize, linesPerBlock, jsonOut
	t.Cleanup(func() {
		capacityBlocks, lineSize, linesPerBlock, jsonOut = oldBlocks, oldLine, oldLines, oldJSON
	})

	capacityBlocks, lineSize, linesPerBlock, jsonOut = blocks, line, lines, asJSON
}

func TestGeometryText(t *testing.T) {
	withGeometry(t, 16, 128, 256, false)

	var out bytes.Buffer
	require.NoError(t, runGeometry(&out))
	require.Contains(t, out.String(), "Block size:      32768 bytes")
	require.Contains(t, out.String(), "Humongous from:  16384 bytes")
}

func TestGeometryJSON(t *testing.T) {
	withGeometry(t, 4, 64, 16, true)

	var out bytes.Buffer
	require.NoError(t, runGeometry(&out))

	var g geometry
	require.NoError(t, json.Unmarshal(out.Bytes(), &g))
	require.Equal(t, geometry{
		CapacityBlocks: 4,
		LineSize:       64,
		LinesPerBlock:  16,
		BlockSize:      1024,
		CapacityBytes:  4096,
		LineCount:      64,
		MinHumongous:   512,
	}, g)
}

func TestGeometryRejectsBadFlags(t *testing.T) {
	withGeometry(t, 4, 100, 16, false)
	require.ErrorIs(t, runGeometry(io.Discard), immix.PowerOfTwoError)

	withGeometry(t, 0, 128, 16, false)
	require.ErrorIs(t, runGeometry(io.Discard), immix.CapacityError)
}

func TestSimulateText(t *testing.T) {
	withGeometry(t, 256, 128, 8, false)

	var out bytes.Buffer
	err := runSimulate(slog.New(slog.NewTextHandler(io.Discard)), simConfig{
		Mutators:    4,
		Objects:     200,
		Cycles:      3,
		Survival:    0.2,
		SharedEvery: 4,
		Seed:        42,
	}, &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "Objects allocated:")
	require.Contains(t, out.String(), "Capacity:              256 blocks (262144 bytes)")
}

func TestSimulateJSON(t *testing.T) {
	withGeometry(t, 128, 128, 8, true)

	config := simConfig{
		Mutators:    2,
		Objects:     100,
		Cycles:      2,
		Survival:    0.5,
		SharedEvery: 0,
		Seed:        7,
	}

	var out bytes.Buffer
	err := runSimulate(slog.New(slog.NewTextHandler(io.Discard)), config, &out)
	require.NoError(t, err)

	var doc struct {
		Simulation struct {
			Allocated int
			Failed    int
		}
		Heap struct {
			CapacityBlocks int
			FreeBlocks     int
			ActiveBlocks   int
		}
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	// Counters accumulate over every cycle
	require.Equal(t, config.Mutators*config.Objects*config.Cycles, doc.Simulation.Allocated+doc.Simulation.Failed)
	require.Equal(t, 128, doc.Heap.CapacityBlocks)
	require.Equal(t, 128, doc.Heap.FreeBlocks+doc.Heap.ActiveBlocks)
}

func TestSimulateRejectsBadConfig(t *testing.T) {
	withGeometry(t, 16, 128, 8, false)
	logger := slog.New(slog.NewTextHandler(io.Discard))

	require.Error(t, runSimulate(logger, simConfig{Mutators: 0, Cycles: 1}, io.Discard))
	require.Error(t, runSimulate(logger, simConfig{Mutators: 1, Cycles: 1, Survival: 2}, io.Discard))
}
