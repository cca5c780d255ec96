package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/steemit/sbds/internal/db"
)

// ErrNotContiguous is returned by Validate when files leave a gap or
// overlap.
var ErrNotContiguous = errors.New("checkpoint files are not contiguous")

// Set is an ordered collection of archive files.
type Set struct {
	Files []File
}

// NewSet sorts the files by start block.
func NewSet(files []File) *Set {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})
	return &Set{Files: sorted}
}

// Scan lists the archive files of dir. Names that are not archives are
// ignored.
func Scan(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint dir: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "blocks-") {
			continue
		}
		f, err := ParseFilename(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		files = append(files, f)
	}
	return NewSet(files), nil
}

// Start returns the first block of the set, or zero when empty.
func (s *Set) Start() int64 {
	if len(s.Files) == 0 {
		return 0
	}
	return s.Files[0].Start
}

// End returns the last block of the set, or zero when empty.
func (s *Set) End() int64 {
	if len(s.Files) == 0 {
		return 0
	}
	return s.Files[len(s.Files)-1].End
}

// Count returns the number of blocks covered by the set.
func (s *Set) Count() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.Count()
	}
	return n
}

// Validate checks that every file starts right after the previous one
// ends.
func (s *Set) Validate() error {
	var problems []string
	for i := 1; i < len(s.Files); i++ {
		prev, cur := s.Files[i-1], s.Files[i]
		switch {
		case cur.Start > prev.End+1:
			problems = append(problems, fmt.Sprintf("missing %s", db.Range{Start: prev.End + 1, End: cur.Start - 1}))
		case cur.Start <= prev.End:
			problems = append(problems, fmt.Sprintf("%s overlaps %s", cur.Filename(), prev.Filename()))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrNotContiguous, strings.Join(problems, ", "))
	}
	return nil
}

// Plan describes how to read [Start, End] from a set.
type Plan struct {
	Start int64
	End   int64
	// Files overlap the requested range, in order.
	Files []File
	// Missing lists the requested sub-ranges no file covers.
	Missing []db.Range
	// Offset is how many blocks of the first file precede Start.
	Offset int64
}

// Covered returns the number of requested blocks the files can supply.
func (p Plan) Covered() int64 {
	n := db.Range{Start: p.Start, End: p.End}.Len()
	for _, r := range p.Missing {
		n -= r.Len()
	}
	return n
}

// Ranges returns the requested sub-ranges the files cover, in order.
func (p Plan) Ranges() []db.Range {
	var out []db.Range
	next := p.Start
	for _, m := range p.Missing {
		if m.Start > next {
			out = append(out, db.Range{Start: next, End: m.Start - 1})
		}
		next = m.End + 1
	}
	if next <= p.End {
		out = append(out, db.Range{Start: next, End: p.End})
	}
	return out
}

// Plan selects the files needed for [start, end] and reports what they
// cannot supply.
func (s *Set) Plan(start, end int64) (Plan, error) {
	if end < start {
		return Plan{}, fmt.Errorf("invalid range %d-%d", start, end)
	}

	plan := Plan{Start: start, End: end}
	next := start
	for _, f := range s.Files {
		if f.End < start || f.Start > end {
			continue
		}
		if f.End < next {
			// fully shadowed by an overlapping earlier file
			continue
		}
		if f.Start > next {
			plan.Missing = append(plan.Missing, db.Range{Start: next, End: f.Start - 1})
		}
		if len(plan.Files) == 0 && start > f.Start {
			plan.Offset = start - f.Start
		}
		plan.Files = append(plan.Files, f)
		next = f.End + 1
		if next > end {
			break
		}
	}
	if next <= end {
		plan.Missing = append(plan.Missing, db.Range{Start: next, End: end})
	}
	return plan, nil
}

// Partitions lays [start, end] out as archives of size blocks each, with
// names padded to width. The last partition may be shorter.
func Partitions(start, end, size int64, width int, compressed bool) []File {
	windows := db.Windows(start, end, size)
	files := make([]File, 0, len(windows))
	for _, w := range windows {
		files = append(files, NewFile(w.Start, w.End, compressed, width))
	}
	return files
}
