package checkpoint

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/steemit/sbds/internal/normalizer"
)

const (
	initialLineBuffer = 1 << 20
	maxLineSize       = 64 << 20
)

// Item is one archived block or the reason it could not be decoded.
type Item struct {
	BlockNum int64
	Block    *normalizer.RawBlock
	Err      error
}

// Reader streams blocks out of archive files.
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a reader
func NewReader(logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{logger: logger}
}

// Stream sends every block of the plan's files within [plan.Start,
// plan.End] to out, in order. A line that does not decode is sent as an
// Item with Err set; an unreadable file ends the stream with an error.
func (r *Reader) Stream(ctx context.Context, plan Plan, out chan<- Item) error {
	next := plan.Start
	for _, f := range plan.Files {
		if next > plan.End {
			break
		}
		from := next
		if f.Start > from {
			from = f.Start
		}
		to := f.End
		if plan.End < to {
			to = plan.End
		}

		r.logger.Info("Reading checkpoint file",
			zap.String("file", f.Path),
			zap.Int64("from", from),
			zap.Int64("to", to),
			zap.Int64("offset", from-f.Start))

		if err := r.streamFile(ctx, f, from, to, out); err != nil {
			return err
		}
		next = to + 1
	}
	return nil
}

func (r *Reader) streamFile(ctx context.Context, f File, from, to int64, out chan<- Item) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Path, err)
	}
	defer fh.Close()

	var src io.Reader = fh
	if f.Compressed {
		gz, err := gzip.NewReader(fh)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream %s: %w", f.Path, err)
		}
		defer gz.Close()
		src = gz
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)

	num := f.Start - 1
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		num++
		if num < from {
			continue
		}
		if num > to {
			return nil
		}

		item := Item{BlockNum: num}
		item.Block, item.Err = decodeLine(line, num)

		select {
		case out <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s after block %d: %w", f.Path, num, err)
	}
	if num < to {
		return fmt.Errorf("%s ends at block %d, expected %d", f.Path, num, f.End)
	}
	return nil
}

func decodeLine(line []byte, want int64) (*normalizer.RawBlock, error) {
	var block normalizer.RawBlock
	if err := sonic.Unmarshal(line, &block); err != nil {
		return nil, fmt.Errorf("decode block %d: %w", want, err)
	}

	got := block.BlockNum
	if got == 0 {
		var err error
		if got, err = normalizer.BlockNumFromPrevious(block.Previous); err != nil {
			return nil, fmt.Errorf("decode block %d: %w", want, err)
		}
	}
	if got != want {
		return nil, fmt.Errorf("archive line for block %d holds block %d", want, got)
	}
	block.BlockNum = want
	return &block, nil
}
