package checkpoint

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

const (
	jsonExt = ".json"
	gzipExt = ".gz"
)

// ErrInvalidFilename is returned for names not of the form
// blocks-<start>-<end>.json[.gz].
var ErrInvalidFilename = errors.New("invalid checkpoint filename")

var filenamePattern = regexp.MustCompile(`^blocks-([0-9]+)-([0-9]+)\.json(\.gz)?$`)

// File is one archive partition holding the blocks Start..End inclusive,
// one JSON block per line.
type File struct {
	Start      int64
	End        int64
	Compressed bool
	Path       string

	// StartWidth and EndWidth are the zero-padded widths of the numbers in
	// the filename.
	StartWidth int
	EndWidth   int
}

// NewFile describes an archive with both numbers padded to width.
func NewFile(start, end int64, compressed bool, width int) File {
	f := File{Start: start, End: end, Compressed: compressed, StartWidth: width, EndWidth: width}
	f.Path = f.Filename()
	return f
}

// ParseFilename parses the base name of path.
func ParseFilename(path string) (File, error) {
	name := filepath.Base(path)
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return File{}, fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}

	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return File{}, fmt.Errorf("%w: %q: %v", ErrInvalidFilename, name, err)
	}
	end, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return File{}, fmt.Errorf("%w: %q: %v", ErrInvalidFilename, name, err)
	}
	if end < start {
		return File{}, fmt.Errorf("%w: %q ends before it starts", ErrInvalidFilename, name)
	}

	return File{
		Start:      start,
		End:        end,
		Compressed: m[3] != "",
		Path:       path,
		StartWidth: len(m[1]),
		EndWidth:   len(m[2]),
	}, nil
}

// Filename formats the archive name.
func (f File) Filename() string {
	ext := jsonExt
	if f.Compressed {
		ext += gzipExt
	}
	return fmt.Sprintf("blocks-%0*d-%0*d%s", f.StartWidth, f.Start, f.EndWidth, f.End, ext)
}

// Count returns the number of blocks in the file.
func (f File) Count() int64 {
	return f.End - f.Start + 1
}

// Contains reports whether the block number lies in the file.
func (f File) Contains(num int64) bool {
	return num >= f.Start && num <= f.End
}

func (f File) String() string {
	return f.Filename()
}
