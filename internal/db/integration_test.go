//go:build integration

package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/steemit/sbds/internal/normalizer"
	"github.com/steemit/sbds/internal/operations"
	"github.com/steemit/sbds/pkg/config"
)

const postgresImage = "postgres:16-alpine"

type StoreSuite struct {
	suite.Suite
	ctx        context.Context
	cancel     context.CancelFunc
	container  *tcPostgres.PostgresContainer
	dsn        string
	registry   *operations.Registry
	norm       *normalizer.Normalizer
	db         *DB
	writer     *Writer
	repo       *Repository
	testCtx    context.Context
	testCancel context.CancelFunc
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)

	container, err := tcPostgres.Run(s.ctx,
		postgresImage,
		tcPostgres.WithDatabase("sbds"),
		tcPostgres.WithUsername("sbds"),
		tcPostgres.WithPassword("sbds"),
		tcPostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.dsn = dsn

	s.registry = operations.NewRegistry()
	s.norm = normalizer.New(s.registry, nil)
}

func (s *StoreSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *StoreSuite) SetupTest() {
	s.testCtx, s.testCancel = context.WithTimeout(context.Background(), time.Minute)

	d, err := New(s.testCtx, &config.DatabaseConfig{URL: s.dsn, MaxOpenConns: 4}, "error")
	s.Require().NoError(err)
	s.Require().NoError(d.InitSchema(s.testCtx, s.registry))

	s.db = d
	s.writer = NewWriter(d, nil)
	s.repo = NewRepository(d)
}

func (s *StoreSuite) TearDownTest() {
	if s.db != nil {
		stmts := []string{`DROP SCHEMA public CASCADE`, `CREATE SCHEMA public`}
		for _, stmt := range stmts {
			s.Require().NoError(s.db.Exec(stmt).Error)
		}
		_ = s.db.Close()
	}
	if s.testCancel != nil {
		s.testCancel()
	}
}

func (s *StoreSuite) block(num int64, ops string) *normalizer.Result {
	previous := fmt.Sprintf("%08x%s", num-1, "00000000000000000000000000000000")
	body := fmt.Sprintf(`{
		"previous": %q,
		"timestamp": "2016-03-24T16:05:30",
		"witness": "steemit",
		"transaction_merkle_root": "0000000000000000000000000000000000000000",
		"witness_signature": "1f",
		"transactions": [{
			"ref_block_num": 9,
			"ref_block_prefix": 3581452923,
			"expiration": "2016-03-24T16:06:00",
			"operations": [%s]
		}],
		"transaction_ids": ["6c3ab4bb9d8d7e1b5a9bb5d0b7e5de0d3c4f2a11"]
	}`, previous, ops)

	var raw normalizer.RawBlock
	s.Require().NoError(json.Unmarshal([]byte(body), &raw))
	res, err := s.norm.Normalize(&raw, nil)
	s.Require().NoError(err)
	s.Require().Equal(num, res.BlockNum())
	return res
}

func (s *StoreSuite) transferBlock(num int64) *normalizer.Result {
	return s.block(num, `["transfer", {"from": "alice", "to": "bob", "amount": "833.000 STEEM", "memo": "hi"}]`)
}

func (s *StoreSuite) TestInitSchemaIsIdempotent() {
	s.Require().NoError(s.db.InitSchema(s.testCtx, s.registry))

	for _, d := range s.registry.Descriptors() {
		s.True(s.db.Migrator().HasTable(d.Table), d.Table)
	}
}

func (s *StoreSuite) TestStoreRoundTrip() {
	report, err := s.writer.Store(s.testCtx, s.transferBlock(11))
	s.Require().NoError(err)
	s.True(report.Backfilled, "fresh database has no accounts")

	block, err := s.repo.GetBlock(s.testCtx, 11)
	s.Require().NoError(err)
	s.Require().NotNil(block)
	s.Equal("steemit", block.Witness)
	s.ElementsMatch([]string{"alice", "bob", "steemit"}, block.Accounts)
	s.Equal([]string{"transfer"}, block.OpTypes)

	trxs, err := s.repo.GetTransactions(s.testCtx, 11)
	s.Require().NoError(err)
	s.Require().Len(trxs, 1)
	s.Equal(1, trxs[0].TransactionNum)

	rows, err := s.repo.GetOperations(s.testCtx, "sbds_op_transfers", 11)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("alice", rows[0]["from"])
	s.Equal("bob", rows[0]["to"])
	s.Equal("STEEM", rows[0]["amount_symbol"])
	s.Equal("833.000000", fmt.Sprint(rows[0]["amount"]))

	for _, name := range []string{"alice", "bob", "steemit"} {
		ok, err := s.repo.AccountExists(s.testCtx, name)
		s.Require().NoError(err)
		s.True(ok, name)
	}
}

func (s *StoreSuite) TestStoreIsIdempotent() {
	res := s.transferBlock(20)
	for i := 0; i < 3; i++ {
		_, err := s.writer.Store(s.testCtx, res)
		s.Require().NoError(err)
	}

	for table, want := range map[string]int64{
		"sbds_core_blocks":       1,
		"sbds_core_transactions": 1,
		"sbds_op_transfers":      1,
		"sbds_meta_accounts":     3,
	} {
		got, err := s.repo.Count(s.testCtx, table)
		s.Require().NoError(err)
		s.Equal(want, got, table)
	}
}

func (s *StoreSuite) TestConcurrentStoreOfSameBlock() {
	res := s.transferBlock(30)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.writer.Store(s.testCtx, res)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.NoError(err)
	}
	got, err := s.repo.Count(s.testCtx, "sbds_op_transfers")
	s.Require().NoError(err)
	s.Equal(int64(1), got)
}

func (s *StoreSuite) TestMissingBlocks() {
	detector := NewGapDetector(s.db, 4)

	missing, err := detector.MissingBlocks(s.testCtx, 1, 5)
	s.Require().NoError(err)
	s.Equal([]int64{1, 2, 3, 4, 5}, missing, "empty store returns the full range")

	for _, num := range []int64{2, 3, 7, 11} {
		_, err := s.writer.Store(s.testCtx, s.transferBlock(num))
		s.Require().NoError(err)
	}

	missing, err = detector.MissingBlocks(s.testCtx, 1, 12)
	s.Require().NoError(err)
	s.Equal([]int64{1, 4, 5, 6, 8, 9, 10, 12}, missing)

	highest, err := detector.HighestBlock(s.testCtx)
	s.Require().NoError(err)
	s.Equal(int64(11), highest)
}

func (s *StoreSuite) TestFailedBlockLeavesNoRows() {
	// a 17 character account name violates the column width
	res := s.block(40, `["transfer", {"from": "aaaaaaaaaaaaaaaaa", "to": "bob", "amount": "1.000 STEEM", "memo": ""}]`)

	_, err := s.writer.Store(s.testCtx, res)
	s.Require().Error(err)

	block, err := s.repo.GetBlock(s.testCtx, 40)
	s.Require().NoError(err)
	s.Nil(block)
}
