package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/steemit/sbds/internal/models"
	"github.com/steemit/sbds/internal/normalizer"
	"github.com/steemit/sbds/internal/operations"
	"github.com/steemit/sbds/pkg/telemetry"
)

const (
	blocksTable       = "sbds_core_blocks"
	transactionsTable = "sbds_core_transactions"

	// foreignKeyViolation is the SQLSTATE of a missing referenced row.
	foreignKeyViolation = "23503"

	accountChunkSize = 1000
)

// ErrAccountIntegrity marks a write that referenced an account row that
// does not exist yet.
var ErrAccountIntegrity = errors.New("referenced account does not exist")

// StoreError describes the statement that failed a block write.
type StoreError struct {
	BlockNum      int64
	Table         string
	OperationType string
	Key           string
	Statement     string
	Values        map[string]interface{}
	Err           error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store block %d: insert into %s", e.BlockNum, e.Table)
	if e.OperationType != "" {
		fmt.Fprintf(&b, " (%s %s)", e.OperationType, e.Key)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Fields returns the error context as log fields.
func (e *StoreError) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("block_num", e.BlockNum),
		zap.String("table", e.Table),
		zap.String("op_type", e.OperationType),
		zap.String("key", e.Key),
		zap.String("statement", e.Statement),
		zap.Any("values", e.Values),
		zap.Error(e.Err),
	}
}

// IsAccountViolation reports whether err is a foreign key violation against
// the accounts table.
func IsAccountViolation(err error) bool {
	if errors.Is(err, ErrAccountIntegrity) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != foreignKeyViolation {
		return false
	}
	return strings.Contains(pgErr.Detail, operations.AccountsTable)
}

// blockStore is the storage the writer drives.
type blockStore interface {
	// WriteBlock inserts a block's rows in one transaction, ignoring rows
	// whose natural key already exists.
	WriteBlock(ctx context.Context, res *normalizer.Result) error
	// EnsureAccounts inserts the names that do not exist yet.
	EnsureAccounts(ctx context.Context, names []string) error
}

// Report tells the caller how a stored block got there.
type Report struct {
	// Backfilled is set when the first attempt hit a missing account and
	// the block was written after inserting its accounts.
	Backfilled bool
}

// Writer persists normalized blocks atomically and idempotently.
type Writer struct {
	store  blockStore
	logger *zap.Logger
}

// NewWriter creates a writer over the database
func NewWriter(d *DB, logger *zap.Logger) *Writer {
	return newWriter(&gormStore{db: d.DB}, logger)
}

func newWriter(store blockStore, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, logger: logger}
}

// Store writes one block with all its rows. Replaying a stored block is a
// no-op. A missing referenced account is recovered by inserting the
// block's account set and retrying once; any other failure, or a failed
// retry, is returned as a *StoreError.
func (w *Writer) Store(ctx context.Context, res *normalizer.Result) (Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "db.store_block")
	defer span.End()

	var report Report
	err := w.store.WriteBlock(ctx, res)
	if err == nil {
		return report, nil
	}
	if !IsAccountViolation(err) {
		telemetry.Fail(span, err)
		return report, asStoreError(res.BlockNum(), err)
	}

	report.Backfilled = true
	telemetry.AccountBackfill(ctx)
	w.logger.Debug("Backfilling accounts",
		zap.Int64("block_num", res.BlockNum()),
		zap.Int("accounts", len(res.Accounts())))

	if err := w.store.EnsureAccounts(ctx, res.Accounts()); err != nil {
		telemetry.Fail(span, err)
		return report, &StoreError{BlockNum: res.BlockNum(), Table: operations.AccountsTable, Err: err}
	}
	if err := w.store.WriteBlock(ctx, res); err != nil {
		telemetry.Fail(span, err)
		return report, asStoreError(res.BlockNum(), err)
	}
	return report, nil
}

func asStoreError(blockNum int64, err error) *StoreError {
	var se *StoreError
	if errors.As(err, &se) {
		return se
	}
	return &StoreError{BlockNum: blockNum, Err: err}
}

// gormStore implements blockStore on PostgreSQL.
type gormStore struct {
	db *gorm.DB
}

func (s *gormStore) WriteBlock(ctx context.Context, res *normalizer.Result) error {
	blockNum := res.BlockNum()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ignore := clause.OnConflict{DoNothing: true}

		if result := tx.Clauses(ignore).Omit(clause.Associations).Create(res.Block); result.Error != nil {
			return &StoreError{BlockNum: blockNum, Table: blocksTable, Statement: result.Statement.SQL.String(), Err: result.Error}
		}

		if len(res.Transactions) > 0 {
			if result := tx.Clauses(ignore).Omit(clause.Associations).Create(&res.Transactions); result.Error != nil {
				return &StoreError{BlockNum: blockNum, Table: transactionsTable, Statement: result.Statement.SQL.String(), Err: result.Error}
			}
		}

		for _, op := range res.Operations {
			row := op.Row()
			if result := tx.Table(op.Table).Clauses(ignore).Create(row); result.Error != nil {
				return &StoreError{
					BlockNum:      blockNum,
					Table:         op.Table,
					OperationType: string(op.Kind),
					Key:           op.Key(),
					Statement:     result.Statement.SQL.String(),
					Values:        row,
					Err:           result.Error,
				}
			}
		}
		return nil
	})
}

func (s *gormStore) EnsureAccounts(ctx context.Context, names []string) error {
	for start := 0; start < len(names); start += accountChunkSize {
		end := start + accountChunkSize
		if end > len(names) {
			end = len(names)
		}
		chunk := make([]models.Account, 0, end-start)
		for _, name := range names[start:end] {
			chunk = append(chunk, models.Account{Name: name})
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&chunk).Error; err != nil {
			return fmt.Errorf("failed to insert accounts: %w", err)
		}
	}
	return nil
}

// EnsureAccounts inserts account names outside of a block write.
func (w *Writer) EnsureAccounts(ctx context.Context, names []string) error {
	return w.store.EnsureAccounts(ctx, names)
}
