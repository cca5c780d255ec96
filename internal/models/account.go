package models

// Account represents a Steem account name referenced by the ledger. Rows are
// created on first reference and never updated.
type Account struct {
	Name string `gorm:"type:varchar(16);primaryKey;column:name"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "sbds_meta_accounts"
}
