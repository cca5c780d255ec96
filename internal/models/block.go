package models

import (
	"time"
)

// Block represents a blockchain block
type Block struct {
	BlockNum              int64     `gorm:"primaryKey;autoIncrement:false;column:block_num" json:"block_num"`
	Previous              string    `gorm:"type:char(40);not null;column:previous" json:"previous"`
	Timestamp             time.Time `gorm:"not null;index:sbds_core_blocks_timestamp_idx;column:timestamp" json:"timestamp"`
	Witness               string    `gorm:"type:varchar(16);not null;column:witness" json:"witness"`
	WitnessSignature      string    `gorm:"type:char(130);not null;column:witness_signature" json:"witness_signature"`
	TransactionMerkleRoot string    `gorm:"type:char(40);not null;column:transaction_merkle_root" json:"transaction_merkle_root"`
	Raw                   []byte    `gorm:"type:jsonb;column:raw" json:"-"`
	Accounts              []string  `gorm:"type:jsonb;serializer:json;column:accounts" json:"accounts"`
	OpTypes               []string  `gorm:"type:jsonb;serializer:json;column:op_types" json:"op_types"`

	// Foreign key relationship
	WitnessAccount *Account `gorm:"foreignKey:Witness;references:Name" json:"-"`
}

// TableName specifies the table name for Block
func (Block) TableName() string {
	return "sbds_core_blocks"
}
