package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/steemit/sbds/internal/models"
)

// Repository provides read access to stored ledger rows
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(d *DB) *Repository {
	return &Repository{db: d.DB}
}

// GetBlock retrieves a block by number
func (r *Repository) GetBlock(ctx context.Context, num int64) (*models.Block, error) {
	var block models.Block
	if err := r.db.WithContext(ctx).First(&block, num).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &block, nil
}

// GetHead retrieves the stored block with the highest number
func (r *Repository) GetHead(ctx context.Context) (*models.Block, error) {
	var block models.Block
	if err := r.db.WithContext(ctx).Order("block_num DESC").First(&block).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &block, nil
}

// GetTransactions retrieves the transactions of a block in order
func (r *Repository) GetTransactions(ctx context.Context, blockNum int64) ([]*models.Transaction, error) {
	var trxs []*models.Transaction
	if err := r.db.WithContext(ctx).
		Where("block_num = ?", blockNum).
		Order("transaction_num").
		Find(&trxs).Error; err != nil {
		return nil, err
	}
	return trxs, nil
}

// GetOperations retrieves the rows of one operation table for a block
func (r *Repository) GetOperations(ctx context.Context, table string, blockNum int64) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	if err := r.db.WithContext(ctx).
		Table(table).
		Where("block_num = ?", blockNum).
		Order("transaction_num, operation_num").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// AccountExists reports whether an account row exists
func (r *Repository) AccountExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Account{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Count returns the number of rows in a table
func (r *Repository) Count(ctx context.Context, table string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Table(table).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
