package indexer

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of one block number.
type State int

const (
	Pending State = iota
	Fetching
	Normalizing
	Persisting
	Stored
	FailedRetryable
	FailedFatal
)

var stateNames = [...]string{"pending", "fetching", "normalizing", "persisting", "stored", "failed_retryable", "failed_fatal"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves the state.
func (s State) Terminal() bool {
	return s == Stored || s == FailedFatal
}

// Cause is why a block entered FailedRetryable.
type Cause int

const (
	CauseNone Cause = iota
	CauseTransport
	CauseAccountBackfill
)

func (c Cause) String() string {
	switch c {
	case CauseTransport:
		return "transport"
	case CauseAccountBackfill:
		return "account_backfill"
	default:
		return "none"
	}
}

// ErrIllegalTransition is returned for a transition the lifecycle does not
// allow.
var ErrIllegalTransition = errors.New("illegal block state transition")

// BlockTracker walks one block number through
//
//	Pending -> Fetching -> Normalizing -> Persisting -> Stored
//
// with a single detour through FailedRetryable per cause: a transport
// failure returns to Fetching, a missing account returns to Persisting.
// Any non-terminal state may end in FailedFatal.
type BlockTracker struct {
	num   int64
	state State
	cause Cause
	used  [3]bool
}

// NewBlockTracker starts a tracker in Pending.
func NewBlockTracker(num int64) *BlockTracker {
	return &BlockTracker{num: num}
}

func (t *BlockTracker) BlockNum() int64 { return t.num }
func (t *BlockTracker) State() State    { return t.state }

// Cause returns the cause of the current FailedRetryable state.
func (t *BlockTracker) Cause() Cause { return t.cause }

func (t *BlockTracker) illegal(to State) error {
	return fmt.Errorf("%w: block %d %s -> %s", ErrIllegalTransition, t.num, t.state, to)
}

func (t *BlockTracker) move(to State, allowed bool) error {
	if !allowed {
		return t.illegal(to)
	}
	t.state = to
	if to != FailedRetryable {
		t.cause = CauseNone
	}
	return nil
}

// Fetch enters Fetching from Pending, or after a transport retry.
func (t *BlockTracker) Fetch() error {
	return t.move(Fetching, t.state == Pending ||
		(t.state == FailedRetryable && t.cause == CauseTransport))
}

// Normalize enters Normalizing once the block is fetched.
func (t *BlockTracker) Normalize() error {
	return t.move(Normalizing, t.state == Fetching)
}

// Persist enters Persisting after normalization, or after accounts were
// backfilled.
func (t *BlockTracker) Persist() error {
	return t.move(Persisting, t.state == Normalizing ||
		(t.state == FailedRetryable && t.cause == CauseAccountBackfill))
}

// Store marks the block stored.
func (t *BlockTracker) Store() error {
	return t.move(Stored, t.state == Persisting)
}

// Retry enters FailedRetryable. Each cause is allowed once per block and
// only from the stage it belongs to.
func (t *BlockTracker) Retry(cause Cause) error {
	var from State
	switch cause {
	case CauseTransport:
		from = Fetching
	case CauseAccountBackfill:
		from = Persisting
	default:
		return t.illegal(FailedRetryable)
	}
	if t.state != from || t.used[cause] {
		return t.illegal(FailedRetryable)
	}
	t.used[cause] = true
	t.state = FailedRetryable
	t.cause = cause
	return nil
}

// Fail marks the block failed for good.
func (t *BlockTracker) Fail() error {
	return t.move(FailedFatal, !t.state.Terminal() && t.state != Pending)
}
