package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// DefaultGapWindow bounds how many block numbers one gap query covers.
const DefaultGapWindow int64 = 1_000_000

// Range is an inclusive range of block numbers.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of blocks in the range.
func (r Range) Len() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Windows splits [start, end] into consecutive windows of at most size.
func Windows(start, end, size int64) []Range {
	if end < start {
		return nil
	}
	if size <= 0 {
		size = DefaultGapWindow
	}
	var out []Range
	for lo := start; lo <= end; lo += size {
		hi := lo + size - 1
		if hi > end || hi < lo {
			hi = end
		}
		out = append(out, Range{Start: lo, End: hi})
		if hi == end {
			break
		}
	}
	return out
}

// Expand lists every block number of the range.
func (r Range) Expand() []int64 {
	nums := make([]int64, 0, r.Len())
	for n := r.Start; n <= r.End; n++ {
		nums = append(nums, n)
	}
	return nums
}

// Collapse merges sorted block numbers into ranges.
func Collapse(nums []int64) []Range {
	var out []Range
	for _, n := range nums {
		if len(out) > 0 && out[len(out)-1].End+1 == n {
			out[len(out)-1].End = n
			continue
		}
		out = append(out, Range{Start: n, End: n})
	}
	return out
}

// GapDetector finds block numbers missing from storage.
type GapDetector struct {
	db     *gorm.DB
	window int64
}

// NewGapDetector creates a detector querying windows of the given size
func NewGapDetector(d *DB, window int64) *GapDetector {
	if window <= 0 {
		window = DefaultGapWindow
	}
	return &GapDetector{db: d.DB, window: window}
}

// IsEmpty reports whether no block is stored.
func (g *GapDetector) IsEmpty(ctx context.Context) (bool, error) {
	var nums []int64
	err := g.db.WithContext(ctx).
		Raw(`SELECT block_num FROM sbds_core_blocks LIMIT 1`).
		Scan(&nums).Error
	if err != nil {
		return false, fmt.Errorf("failed to probe blocks: %w", err)
	}
	return len(nums) == 0, nil
}

// HighestBlock returns the highest stored block number, or zero.
func (g *GapDetector) HighestBlock(ctx context.Context) (int64, error) {
	var highest int64
	err := g.db.WithContext(ctx).
		Raw(`SELECT COALESCE(MAX(block_num), 0) FROM sbds_core_blocks`).
		Scan(&highest).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get highest block: %w", err)
	}
	return highest, nil
}

// MissingBlocks returns, in ascending order, every block number in
// [start, end] that is not stored. An empty store returns the whole range
// without reading existing keys; otherwise each window is resolved with a
// generated series anti-joined against the block keys.
func (g *GapDetector) MissingBlocks(ctx context.Context, start, end int64) ([]int64, error) {
	if end < start {
		return nil, nil
	}

	empty, err := g.IsEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		return Range{Start: start, End: end}.Expand(), nil
	}

	var missing []int64
	for _, w := range Windows(start, end, g.window) {
		var stored int64
		err := g.db.WithContext(ctx).
			Raw(`SELECT COUNT(*) FROM sbds_core_blocks WHERE block_num BETWEEN ? AND ?`, w.Start, w.End).
			Scan(&stored).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count blocks in %s: %w", w, err)
		}
		switch stored {
		case w.Len():
			continue
		case 0:
			missing = append(missing, w.Expand()...)
			continue
		}

		var nums []int64
		err = g.db.WithContext(ctx).Raw(`
			SELECT s.n
			FROM generate_series(?::bigint, ?::bigint) AS s(n)
			LEFT JOIN sbds_core_blocks b ON b.block_num = s.n
			WHERE b.block_num IS NULL
			ORDER BY s.n`, w.Start, w.End).
			Scan(&nums).Error
		if err != nil {
			return nil, fmt.Errorf("failed to find gaps in %s: %w", w, err)
		}
		missing = append(missing, nums...)
	}
	return missing, nil
}
