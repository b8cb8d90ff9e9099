package models

import "time"

// TransactionType is the kind of ledger entry.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionDebit    TransactionType = "debit"
	TransactionReward   TransactionType = "reward"
	// TransactionRefund is only written by the compensating publish-failure policy.
	TransactionRefund   TransactionType = "refund"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionDebit, TransactionReward, TransactionRefund:
		return true
	}
	return false
}

// Signed returns coins with the sign this entry type applies to a balance.
func (t TransactionType) Signed(coins int64) int64 {
	if t == TransactionDebit {
		return -coins
	}
	return coins
}

// Transaction is an immutable ledger entry. Coins is the positive magnitude;
// CoinsAfter always equals CoinsBefore + Type.Signed(Coins).
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	SchoolID    uint            `gorm:"not null;index" json:"school_id"`
	Type        TransactionType `gorm:"type:varchar(16);not null" json:"type"`
	Coins       int64           `gorm:"not null" json:"coins"`
	CoinsBefore int64           `gorm:"not null" json:"coins_before"`
	CoinsAfter  int64           `gorm:"not null" json:"coins_after"`
	ReferenceID string          `gorm:"size:120;index" json:"reference_id,omitempty"`
	Description string          `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Transaction) TableName() string {
	return "transactions"
}

// Consistent reports whether the before/after snapshots agree with the delta.
func (t *Transaction) Consistent() bool {
	return t.CoinsAfter == t.CoinsBefore+t.Type.Signed(t.Coins)
}
