package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steemit/sbds/internal/models"
	"github.com/steemit/sbds/internal/normalizer"
	"github.com/steemit/sbds/internal/operations"
)

// memStore mimics the constraints of the PostgreSQL schema in memory.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]bool
	rows     map[string]map[string]interface{}
	writes   int
	ensures  int
	// writeErr, when set, fails every write.
	writeErr error
	// ensureIgnores drops these names from EnsureAccounts.
	ensureIgnores map[string]bool
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[string]bool), rows: make(map[string]map[string]interface{})}
}

func fkViolation(name string) error {
	return &pgconn.PgError{
		Code:   "23503",
		Detail: fmt.Sprintf(`Key (voter)=(%s) is not present in table "sbds_meta_accounts".`, name),
	}
}

func (m *memStore) WriteBlock(ctx context.Context, res *normalizer.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++

	if m.writeErr != nil {
		return m.writeErr
	}
	if w := res.Block.Witness; w != "" && !m.accounts[w] {
		return &StoreError{BlockNum: res.BlockNum(), Table: blocksTable, Err: fkViolation(w)}
	}
	for _, op := range res.Operations {
		for _, name := range op.Accounts {
			if !m.accounts[name] {
				return &StoreError{BlockNum: res.BlockNum(), Table: op.Table, OperationType: string(op.Kind), Key: op.Key(), Err: fkViolation(name)}
			}
		}
	}

	// all-or-nothing, conflicts ignored
	key := fmt.Sprintf("%s/%d", blocksTable, res.BlockNum())
	if _, ok := m.rows[key]; !ok {
		m.rows[key] = map[string]interface{}{"witness": res.Block.Witness}
	}
	for _, op := range res.Operations {
		key := op.Table + "/" + op.Key()
		if _, ok := m.rows[key]; !ok {
			m.rows[key] = op.Row()
		}
	}
	return nil
}

func (m *memStore) EnsureAccounts(ctx context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensures++
	for _, name := range names {
		if !m.ensureIgnores[name] {
			m.accounts[name] = true
		}
	}
	return nil
}

func voteBlock(num int64) *normalizer.Result {
	return &normalizer.Result{
		Block: &models.Block{BlockNum: num, Witness: "w", Accounts: []string{"alice", "bob", "w"}},
		Operations: []*operations.Record{{
			Kind:           operations.Vote,
			Table:          "sbds_op_votes",
			BlockNum:       num,
			TransactionNum: 1,
			OperationNum:   1,
			Values:         map[string]interface{}{"voter": "alice", "author": "bob"},
			Accounts:       []string{"alice", "bob"},
		}},
	}
}

func TestStoreBackfillsAccounts(t *testing.T) {
	store := newMemStore()
	w := newWriter(store, nil)

	report, err := w.Store(context.Background(), voteBlock(10))
	require.NoError(t, err)
	assert.True(t, report.Backfilled)
	assert.Equal(t, 2, store.writes)
	assert.Equal(t, 1, store.ensures)
	assert.True(t, store.accounts["alice"])
	assert.True(t, store.accounts["w"])
	assert.Len(t, store.rows, 2)
}

func TestStoreIsIdempotent(t *testing.T) {
	store := newMemStore()
	w := newWriter(store, nil)

	for i := 0; i < 3; i++ {
		_, err := w.Store(context.Background(), voteBlock(10))
		require.NoError(t, err)
	}
	assert.Len(t, store.rows, 2)
	assert.Equal(t, 1, store.ensures, "accounts backfilled only on the first attempt")
}

func TestStoreRetriesOnlyOnce(t *testing.T) {
	store := newMemStore()
	store.ensureIgnores = map[string]bool{"bob": true}
	w := newWriter(store, nil)

	report, err := w.Store(context.Background(), voteBlock(11))
	require.Error(t, err)
	assert.True(t, report.Backfilled)
	assert.Equal(t, 2, store.writes)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int64(11), se.BlockNum)
	assert.Equal(t, "sbds_op_votes", se.Table)
	assert.Equal(t, "vote", se.OperationType)
	assert.Equal(t, "11/1/1", se.Key)
	assert.True(t, IsAccountViolation(err))
	assert.Empty(t, store.rows, "failed block leaves no rows")
}

func TestStoreDoesNotRetryOtherErrors(t *testing.T) {
	store := newMemStore()
	store.writeErr = &StoreError{BlockNum: 12, Table: "sbds_op_votes", Err: &pgconn.PgError{Code: "22001", Message: "value too long"}}
	w := newWriter(store, nil)

	report, err := w.Store(context.Background(), voteBlock(12))
	require.Error(t, err)
	assert.False(t, report.Backfilled)
	assert.Equal(t, 1, store.writes)
	assert.Zero(t, store.ensures)
	assert.False(t, IsAccountViolation(err))

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "store block 12")
}

func TestStoreWrapsPlainErrors(t *testing.T) {
	store := newMemStore()
	store.writeErr = errors.New("connection refused")
	w := newWriter(store, nil)

	_, err := w.Store(context.Background(), voteBlock(13))
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int64(13), se.BlockNum)
	assert.NotEmpty(t, se.Fields())
}

func TestIsAccountViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "account fk", err: fkViolation("alice"), want: true},
		{name: "wrapped account fk", err: fmt.Errorf("insert: %w", fkViolation("alice")), want: true},
		{name: "sentinel", err: ErrAccountIntegrity, want: true},
		{name: "other fk", err: &pgconn.PgError{Code: "23503", Detail: `Key (block_num)=(1) is not present in table "sbds_core_blocks".`}},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "plain", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAccountViolation(tt.err))
		})
	}
}
