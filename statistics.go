package immix

import "math"

// Statistics summarizes how the blocks of a heap are split between free runs and
// runs owned by some allocation tier
type Statistics struct {
	CapacityBlocks int
	FreeBlocks     int
	ActiveBlocks   int
	CapacityBytes  int
	ActiveBytes    int
}

func (s *Statistics) Clear() {
	s.CapacityBlocks = 0
	s.FreeBlocks = 0
	s.ActiveBlocks = 0
	s.CapacityBytes = 0
	s.ActiveBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.CapacityBlocks += other.CapacityBlocks
	s.FreeBlocks += other.FreeBlocks
	s.ActiveBlocks += other.ActiveBlocks
	s.CapacityBytes += other.CapacityBytes
	s.ActiveBytes += other.ActiveBytes
}

// DetailedStatistics adds run-level information to Statistics. It is gathered by
// walking the block table, so it should only be collected at quiescent points.
type DetailedStatistics struct {
	Statistics
	FreeRunCount     int
	FreeRunSizeMin   int
	FreeRunSizeMax   int
	ActiveRunCount   int
	ActiveRunSizeMin int
	ActiveRunSizeMax int
	// CachedBlocks counts single free blocks parked outside the free index
	CachedBlocks int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRunCount = 0
	s.FreeRunSizeMin = math.MaxInt
	s.FreeRunSizeMax = 0
	s.ActiveRunCount = 0
	s.ActiveRunSizeMin = math.MaxInt
	s.ActiveRunSizeMax = 0
	s.CachedBlocks = 0
}

func (s *DetailedStatistics) AddFreeRun(blocks int) {
	s.FreeRunCount++

	if blocks < s.FreeRunSizeMin {
		s.FreeRunSizeMin = blocks
	}

	if blocks > s.FreeRunSizeMax {
		s.FreeRunSizeMax = blocks
	}
}

func (s *DetailedStatistics) AddActiveRun(blocks int) {
	s.ActiveRunCount++

	if blocks < s.ActiveRunSizeMin {
		s.ActiveRunSizeMin = blocks
	}

	if blocks > s.ActiveRunSizeMax {
		s.ActiveRunSizeMax = blocks
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRunCount += other.FreeRunCount
	s.ActiveRunCount += other.ActiveRunCount
	s.CachedBlocks += other.CachedBlocks

	if other.FreeRunSizeMin < s.FreeRunSizeMin {
		s.FreeRunSizeMin = other.FreeRunSizeMin
	}

	if other.FreeRunSizeMax > s.FreeRunSizeMax {
		s.FreeRunSizeMax = other.FreeRunSizeMax
	}

	if other.ActiveRunSizeMin < s.ActiveRunSizeMin {
		s.ActiveRunSizeMin = other.ActiveRunSizeMin
	}

	if other.ActiveRunSizeMax > s.ActiveRunSizeMax {
		s.ActiveRunSizeMax = other.ActiveRunSizeMax
	}
}
