package lines

import "github.com/cockroachdb/errors"

// Discoverer walks the lines of one block and reports each run of consecutive
// clean lines as an address range. It remembers its position, so successive calls
// continue where the previous one stopped until Reset is called.
type Discoverer struct {
	table *Table
	begin int
	iter  int
	end   int
}

// Init binds the discoverer to lineCount lines beginning at blockStart
func (d *Discoverer) Init(table *Table, blockStart uintptr, lineCount int) {
	d.table = table
	d.begin = table.LineFor(blockStart)
	d.end = d.begin + lineCount
	if d.end > table.Len() {
		panic(errors.AssertionFailedf("a block of %d lines at line %d overruns the line table", lineCount, d.begin))
	}

	d.Reset()
}

func (d *Discoverer) Reset() { d.iter = d.begin }

// Exhausted reports whether the scan has reached the end of the block
func (d *Discoverer) Exhausted() bool { return d.iter >= d.end }

// Next returns the next run of clean lines, or false once the block has no more
func (d *Discoverer) Next() (Range, bool) {
	markers := d.table.markers

	for d.iter < d.end {
		if markers[d.iter] != Clean {
			d.iter++
			continue
		}

		first := d.iter
		for d.iter++; d.iter < d.end && markers[d.iter] == Clean; d.iter++ {
		}

		return Range{
			Start: d.table.AddrFor(first),
			End:   d.table.AddrFor(d.iter),
		}, true
	}

	return Range{}, false
}

// Discover reports clean runs to visit until visit returns false. It returns true
// if the whole block was scanned and false if visit stopped it early.
func (d *Discoverer) Discover(visit func(r Range) bool) bool {
	for {
		r, ok := d.Next()
		if !ok {
			return true
		}

		if !visit(r) {
			return false
		}
	}
}

// Clear resets every line of the block to clean
func (d *Discoverer) Clear() {
	markers := d.table.markers[d.begin:d.end]
	for i := range markers {
		markers[i] = Clean
	}
}
