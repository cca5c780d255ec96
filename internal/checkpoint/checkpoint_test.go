package checkpoint

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steemit/sbds/internal/db"
)

func TestFilenameRoundTrip(t *testing.T) {
	names := []string{
		"blocks-00000001-01000000.json",
		"blocks-01000001-02000000.json.gz",
		"blocks-1-100.json",
		"blocks-0001-100.json.gz",
		"blocks-20000001-21000000.json",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			f, err := ParseFilename(name)
			require.NoError(t, err)
			assert.Equal(t, name, f.Filename())
		})
	}
}

func TestParseFilename(t *testing.T) {
	f, err := ParseFilename("/data/blocks-01000001-02000000.json.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_001), f.Start)
	assert.Equal(t, int64(2_000_000), f.End)
	assert.True(t, f.Compressed)
	assert.Equal(t, "/data/blocks-01000001-02000000.json.gz", f.Path)
	assert.Equal(t, int64(1_000_000), f.Count())
	assert.True(t, f.Contains(1_500_000))
	assert.False(t, f.Contains(1_000_000))
}

func TestParseFilenameRejectsMalformed(t *testing.T) {
	names := []string{
		"",
		"blocks-1-100",
		"blocks-1-100.json.bz2",
		"blocks-a-100.json",
		"blocks--100.json",
		"block-1-100.json",
		"blocks-1-100-200.json",
		"blocks-100-1.json",
		"blocks-1-100.jsonl",
		"xblocks-1-100.json",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFilename(name)
			assert.True(t, errors.Is(err, ErrInvalidFilename), "got %v", err)
		})
	}
}

func TestNewFile(t *testing.T) {
	f := NewFile(1, 1_000_000, true, 8)
	assert.Equal(t, "blocks-00000001-01000000.json.gz", f.Filename())
	assert.Equal(t, f.Filename(), f.Path)
}

func set(ranges ...[2]int64) *Set {
	files := make([]File, 0, len(ranges))
	for _, r := range ranges {
		files = append(files, NewFile(r[0], r[1], false, 8))
	}
	return NewSet(files)
}

func TestSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		set     *Set
		wantErr string
	}{
		{name: "empty", set: set()},
		{name: "single", set: set([2]int64{1, 100})},
		{name: "contiguous unsorted", set: set([2]int64{201, 300}, [2]int64{1, 100}, [2]int64{101, 200})},
		{name: "gap", set: set([2]int64{1, 100}, [2]int64{151, 200}), wantErr: "missing 101-150"},
		{name: "overlap", set: set([2]int64{1, 100}, [2]int64{90, 200}), wantErr: "overlaps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.set.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotContiguous))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetBounds(t *testing.T) {
	s := set([2]int64{101, 200}, [2]int64{1, 100})
	assert.Equal(t, int64(1), s.Start())
	assert.Equal(t, int64(200), s.End())
	assert.Equal(t, int64(200), s.Count())
	assert.Zero(t, set().End())
}

func TestSetPlan(t *testing.T) {
	s := set([2]int64{1, 100}, [2]int64{101, 200}, [2]int64{301, 400})

	tests := []struct {
		name       string
		start, end int64
		files      []int64
		missing    []db.Range
		offset     int64
	}{
		{name: "inside first file", start: 10, end: 20, files: []int64{1}, offset: 9},
		{name: "spans files", start: 50, end: 150, files: []int64{1, 101}, offset: 49},
		{name: "hole in the middle", start: 150, end: 350, files: []int64{101, 301}, missing: []db.Range{{Start: 201, End: 300}}, offset: 49},
		{name: "past the end", start: 390, end: 450, files: []int64{301}, missing: []db.Range{{Start: 401, End: 450}}, offset: 89},
		{name: "nothing covered", start: 500, end: 600, missing: []db.Range{{Start: 500, End: 600}}},
		{name: "starts in a hole", start: 250, end: 310, files: []int64{301}, missing: []db.Range{{Start: 250, End: 300}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := s.Plan(tt.start, tt.end)
			require.NoError(t, err)

			var starts []int64
			for _, f := range plan.Files {
				starts = append(starts, f.Start)
			}
			assert.Equal(t, tt.files, starts)
			assert.Equal(t, tt.missing, plan.Missing)
			assert.Equal(t, tt.offset, plan.Offset)
		})
	}

	_, err := s.Plan(10, 5)
	assert.Error(t, err)
}

func TestPlanCovered(t *testing.T) {
	plan, err := set([2]int64{1, 100}).Plan(51, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(50), plan.Covered())
	assert.Equal(t, []db.Range{{Start: 51, End: 100}}, plan.Ranges())

	plan, err = set([2]int64{1, 100}, [2]int64{201, 300}).Plan(50, 250)
	require.NoError(t, err)
	assert.Equal(t, []db.Range{{Start: 50, End: 100}, {Start: 201, End: 250}}, plan.Ranges())
	assert.Equal(t, int64(101), plan.Covered())

	plan, err = set().Plan(1, 10)
	require.NoError(t, err)
	assert.Empty(t, plan.Ranges())
	assert.Zero(t, plan.Covered())
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"blocks-00000101-00000200.json.gz",
		"blocks-00000001-00000100.json",
		"notes.txt",
		"blocks-bad.json",
	} {
		writeLines(t, filepath.Join(dir, name), nil)
	}

	s, err := Scan(dir)
	require.NoError(t, err)
	require.Len(t, s.Files, 2)
	assert.Equal(t, int64(1), s.Files[0].Start)
	assert.False(t, s.Files[0].Compressed)
	assert.True(t, s.Files[1].Compressed)
	assert.Equal(t, filepath.Join(dir, "blocks-00000001-00000100.json"), s.Files[0].Path)
	assert.NoError(t, s.Validate())

	_, err = Scan(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestPartitions(t *testing.T) {
	files := Partitions(1, 250, 100, 6, true)
	require.Len(t, files, 3)
	assert.Equal(t, "blocks-000001-000100.json.gz", files[0].Filename())
	assert.Equal(t, "blocks-000201-000250.json.gz", files[2].Filename())
	assert.NoError(t, NewSet(files).Validate())
	assert.Equal(t, int64(250), NewSet(files).Count())

	assert.Empty(t, Partitions(10, 5, 100, 8, false))
}
