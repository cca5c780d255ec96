package db

import (
	"context"
	"fmt"

	"github.com/steemit/sbds/internal/models"
	"github.com/steemit/sbds/internal/operations"
	"github.com/steemit/sbds/pkg/logging"
)

// InitSchema creates the core tables and one table per registered
// operation kind. Every statement is idempotent.
func (d *DB) InitSchema(ctx context.Context, registry *operations.Registry) error {
	tx := d.WithContext(ctx)

	if err := tx.AutoMigrate(&models.Account{}, &models.Block{}, &models.Transaction{}); err != nil {
		return fmt.Errorf("failed to migrate core tables: %w", err)
	}

	stmts := registry.Schema()
	for _, stmt := range stmts {
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create operation table: %w", err)
		}
	}

	logging.WithComponent("db").Info("Schema initialized")
	return nil
}
