package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 交易记录状态
const (
	TxStatusSubmitted = "submitted"
	TxStatusConfirmed = "confirmed"
	TxStatusFailed    = "failed"
	TxStatusTimedOut  = "timed_out"
)

// TxRecord 已广播交易的本地记录 (只记录广播成功的交易)
type TxRecord struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Hash        string          `gorm:"type:varchar(66);not null;uniqueIndex" json:"hash"`
	FromAddress string          `gorm:"type:varchar(42);not null;index" json:"from"`
	ToAddress   string          `gorm:"type:varchar(42);not null;index" json:"to"`
	Value       decimal.Decimal `gorm:"type:decimal(40,18);not null" json:"value"` // ether
	Nonce       uint64          `gorm:"not null" json:"nonce"`
	GasLimit    uint64          `gorm:"not null" json:"gas_limit"`
	GasPrice    decimal.Decimal `gorm:"type:decimal(40,0);not null" json:"gas_price"` // wei
	ChainID     int64           `gorm:"not null" json:"chain_id"`
	Signer      string          `gorm:"type:varchar(16);not null" json:"signer"` // local, external
	Status      string          `gorm:"type:varchar(20);not null;default:'submitted';index" json:"status"`

	BlockNumber   *uint64 `json:"block_number,omitempty"`
	ReceiptStatus *uint64 `json:"receipt_status,omitempty"` // 1 成功, 0 revert
	Attempts      int     `gorm:"not null;default:0" json:"attempts"`
	Resumes       int     `gorm:"not null;default:0" json:"resumes"`
	LastError     string  `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

func (TxRecord) TableName() string {
	return "tx_records"
}
