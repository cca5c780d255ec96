package models

import (
	"time"
)

// Transaction represents a signed transaction within a block
type Transaction struct {
	BlockNum       int64     `gorm:"primaryKey;autoIncrement:false;column:block_num"`
	TransactionNum int       `gorm:"primaryKey;autoIncrement:false;column:transaction_num"`
	RefBlockNum    int       `gorm:"not null;column:ref_block_num"`
	RefBlockPrefix int64     `gorm:"not null;column:ref_block_prefix"`
	Expiration     time.Time `gorm:"not null;column:expiration"`
	Type           string    `gorm:"type:varchar(64);not null;index:sbds_core_transactions_type_idx;column:type"`
	TrxID          string    `gorm:"type:varchar(40);index:sbds_core_transactions_trx_id_idx;column:trx_id"`

	Block *Block `gorm:"foreignKey:BlockNum;references:BlockNum;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for Transaction
func (Transaction) TableName() string {
	return "sbds_core_transactions"
}
