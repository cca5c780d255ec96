package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChain struct {
	head, irreversible int64
	err                error
}

func (c *stubChain) HeadBlock(ctx context.Context) (int64, error)        { return c.head, c.err }
func (c *stubChain) LastIrreversible(ctx context.Context) (int64, error) { return c.irreversible, c.err }

type stubGaps struct {
	stored map[int64]bool
	calls  [][2]int64
}

func (g *stubGaps) MissingBlocks(ctx context.Context, start, end int64) ([]int64, error) {
	g.calls = append(g.calls, [2]int64{start, end})
	var out []int64
	for n := start; n <= end; n++ {
		if !g.stored[n] {
			out = append(out, n)
		}
	}
	return out, nil
}

type stubRunner struct {
	runs [][]int64
}

func (r *stubRunner) Run(ctx context.Context, nums []int64) (Summary, error) {
	r.runs = append(r.runs, nums)
	return Summary{Requested: int64(len(nums)), Stored: int64(len(nums))}, nil
}

type stubFailed []int64

func (f stubFailed) FailedBlocks(ctx context.Context) ([]int64, error) { return f, nil }

func TestSyncTarget(t *testing.T) {
	chain := &stubChain{head: 120, irreversible: 100}

	tests := []struct {
		name string
		opts SyncOptions
		want int64
	}{
		{name: "irreversible by default", opts: SyncOptions{}, want: 100},
		{name: "head block", opts: SyncOptions{UseHeadBlock: true}, want: 120},
		{name: "explicit end", opts: SyncOptions{EndBlock: 50, UseHeadBlock: true}, want: 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSync(chain, &stubGaps{}, &stubRunner{}, nil, tt.opts)
			got, err := s.Target(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSyncRunsMissingBlocks(t *testing.T) {
	gaps := &stubGaps{stored: map[int64]bool{1: true, 2: true, 4: true}}
	runner := &stubRunner{}
	s := NewSync(&stubChain{irreversible: 6}, gaps, runner, nil, SyncOptions{StartBlock: 1})

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][2]int64{{1, 6}}, gaps.calls)
	assert.Equal(t, [][]int64{{3, 5, 6}}, runner.runs)
	assert.Equal(t, int64(3), summary.Stored)
}

func TestSyncNothingToDo(t *testing.T) {
	runner := &stubRunner{}

	s := NewSync(&stubChain{irreversible: 5}, &stubGaps{}, runner, nil, SyncOptions{StartBlock: 10})
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	full := &stubGaps{stored: map[int64]bool{1: true, 2: true}}
	s = NewSync(&stubChain{irreversible: 2}, full, runner, nil, SyncOptions{})
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, runner.runs)
}

func TestSyncChainError(t *testing.T) {
	s := NewSync(&stubChain{err: errors.New("node down")}, &stubGaps{}, &stubRunner{}, nil, SyncOptions{})
	_, err := s.Run(context.Background())
	assert.ErrorContains(t, err, "node down")
}

func TestSyncRetryFailed(t *testing.T) {
	gaps := &stubGaps{}
	runner := &stubRunner{}
	s := NewSync(&stubChain{}, gaps, runner, stubFailed{7, 42}, SyncOptions{RetryFailed: true})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gaps.calls, "retry mode does not look for gaps")
	assert.Equal(t, [][]int64{{7, 42}}, runner.runs)
}

func TestSyncFollowStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	runner := &stubRunner{}
	s := NewSync(&stubChain{irreversible: 3}, &stubGaps{}, runner, nil,
		SyncOptions{Follow: true, Interval: 10 * time.Millisecond})

	summary, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, runner.runs)
	assert.Equal(t, int64(3), summary.Requested)
}
