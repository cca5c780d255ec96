package indexer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steemit/sbds/internal/db"
	"github.com/steemit/sbds/internal/fetch"
	"github.com/steemit/sbds/internal/normalizer"
)

func TestBlockTrackerPaths(t *testing.T) {
	tests := []struct {
		name  string
		steps func(tr *BlockTracker) []func() error
		want  State
	}{
		{
			name: "happy path",
			steps: func(tr *BlockTracker) []func() error {
				return []func() error{tr.Fetch, tr.Normalize, tr.Persist, tr.Store}
			},
			want: Stored,
		},
		{
			name: "transport retry",
			steps: func(tr *BlockTracker) []func() error {
				return []func() error{tr.Fetch, retry(tr, CauseTransport), tr.Fetch, tr.Normalize, tr.Persist, tr.Store}
			},
			want: Stored,
		},
		{
			name: "account backfill",
			steps: func(tr *BlockTracker) []func() error {
				return []func() error{tr.Fetch, tr.Normalize, tr.Persist, retry(tr, CauseAccountBackfill), tr.Persist, tr.Store}
			},
			want: Stored,
		},
		{
			name: "both retries then failure",
			steps: func(tr *BlockTracker) []func() error {
				return []func() error{
					tr.Fetch, retry(tr, CauseTransport), tr.Fetch, tr.Normalize,
					tr.Persist, retry(tr, CauseAccountBackfill), tr.Persist, tr.Fail,
				}
			},
			want: FailedFatal,
		},
		{
			name: "retryable gives up",
			steps: func(tr *BlockTracker) []func() error {
				return []func() error{tr.Fetch, retry(tr, CauseTransport), tr.Fail}
			},
			want: FailedFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewBlockTracker(7)
			require.NoError(t, steps(tt.steps(tr)...))
			assert.Equal(t, tt.want, tr.State())
			assert.True(t, tr.State().Terminal())
		})
	}
}

func TestBlockTrackerRejects(t *testing.T) {
	tests := []struct {
		name  string
		steps func(tr *BlockTracker) []func() error
	}{
		{name: "skip fetch", steps: func(tr *BlockTracker) []func() error { return []func() error{tr.Normalize} }},
		{name: "fail from pending", steps: func(tr *BlockTracker) []func() error { return []func() error{tr.Fail} }},
		{name: "second transport retry", steps: func(tr *BlockTracker) []func() error {
			return []func() error{tr.Fetch, retry(tr, CauseTransport), tr.Fetch, retry(tr, CauseTransport)}
		}},
		{name: "second backfill", steps: func(tr *BlockTracker) []func() error {
			return []func() error{tr.Fetch, tr.Normalize, tr.Persist, retry(tr, CauseAccountBackfill), tr.Persist, retry(tr, CauseAccountBackfill)}
		}},
		{name: "backfill while fetching", steps: func(tr *BlockTracker) []func() error {
			return []func() error{tr.Fetch, retry(tr, CauseAccountBackfill)}
		}},
		{name: "transport retry resumes persisting", steps: func(tr *BlockTracker) []func() error {
			return []func() error{tr.Fetch, retry(tr, CauseTransport), tr.Persist}
		}},
		{name: "leave stored", steps: func(tr *BlockTracker) []func() error {
			return []func() error{tr.Fetch, tr.Normalize, tr.Persist, tr.Store, tr.Fail}
		}},
		{name: "leave failed", steps: func(tr *BlockTracker) []func() error {
			return []func() error{tr.Fetch, tr.Fail, tr.Fetch}
		}},
		{name: "unknown cause", steps: func(tr *BlockTracker) []func() error {
			return []func() error{tr.Fetch, retry(tr, CauseNone)}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := steps(tt.steps(NewBlockTracker(9))...)
			assert.True(t, errors.Is(err, ErrIllegalTransition), "got %v", err)
		})
	}
}

func TestTrackOutcome(t *testing.T) {
	ok := &normalizer.Result{}
	tests := []struct {
		name     string
		outcome  fetch.Outcome
		report   db.Report
		storeErr error
		want     State
	}{
		{name: "stored", outcome: fetch.Outcome{Result: ok}, want: Stored},
		{name: "retried then stored", outcome: fetch.Outcome{Result: ok, Retried: true}, want: Stored},
		{name: "backfilled", outcome: fetch.Outcome{Result: ok}, report: db.Report{Backfilled: true}, want: Stored},
		{name: "store failed after backfill", outcome: fetch.Outcome{Result: ok}, report: db.Report{Backfilled: true}, storeErr: errors.New("x"), want: FailedFatal},
		{name: "fetch failed", outcome: fetch.Outcome{Stage: fetch.StageFetch, Err: errors.New("x"), Retried: true}, want: FailedFatal},
		{name: "normalize failed", outcome: fetch.Outcome{Stage: fetch.StageNormalize, Err: errors.New("x")}, want: FailedFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewBlockTracker(1)
			require.NoError(t, trackFetch(tr, tt.outcome))
			if tt.outcome.Err == nil {
				require.Equal(t, Persisting, tr.State())
				require.NoError(t, trackStore(tr, tt.report, tt.storeErr))
			}
			assert.Equal(t, tt.want, tr.State())
		})
	}

	assert.Error(t, trackFetch(NewBlockTracker(1), fetch.Outcome{}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "failed_retryable", FailedRetryable.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.Equal(t, "account_backfill", CauseAccountBackfill.String())
}
