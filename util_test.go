package immix_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/immix"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, immix.CheckPow2(128, "lineSize"))
	require.NoError(t, immix.CheckPow2(uintptr(1), "one"))

	err := immix.CheckPow2(96, "lineSize")
	require.ErrorIs(t, err, immix.PowerOfTwoError)
	require.Contains(t, err.Error(), "lineSize is 96")

	require.ErrorIs(t, immix.CheckPow2(0, "zero"), immix.PowerOfTwoError)
}

func TestAlignment(t *testing.T) {
	require.Equal(t, 256, immix.AlignUp(129, 128))
	require.Equal(t, 128, immix.AlignUp(128, 128))
	require.Equal(t, uintptr(0x8000), immix.AlignDown(uintptr(0x8fff), uintptr(0x8000)))
	require.Equal(t, 3, immix.DivideRoundingUp(65, 32))

	require.NoError(t, immix.CheckAligned(0x10000, 0x8000, "start"))
	require.ErrorIs(t, immix.CheckAligned(0x10100, 0x8000, "start"), immix.AlignmentError)
}

func TestDetailedStatistics(t *testing.T) {
	var stats immix.DetailedStatistics
	stats.Clear()

	stats.AddFreeRun(3)
	stats.AddFreeRun(7)
	stats.AddActiveRun(1)

	var other immix.DetailedStatistics
	other.Clear()
	other.CapacityBlocks = 10
	other.AddFreeRun(1)
	other.CachedBlocks = 1

	stats.AddDetailedStatistics(&other)

	require.Equal(t, 10, stats.CapacityBlocks)
	require.Equal(t, 3, stats.FreeRunCount)
	require.Equal(t, 1, stats.FreeRunSizeMin)
	require.Equal(t, 7, stats.FreeRunSizeMax)
	require.Equal(t, 1, stats.ActiveRunCount)
	require.Equal(t, 1, stats.ActiveRunSizeMin)
	require.Equal(t, 1, stats.ActiveRunSizeMax)
	require.Equal(t, 1, stats.CachedBlocks)
}
