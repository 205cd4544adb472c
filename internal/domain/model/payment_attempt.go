package model

import "time"

type PaymentProvider string

const (
	ProviderCard        PaymentProvider = "CARD"
	ProviderMobileMoney PaymentProvider = "MOBILE_MONEY"
	ProviderOnChain     PaymentProvider = "ON_CHAIN"
)

type AttemptStatus string

const (
	AttemptStatusCreated           AttemptStatus = "CREATED"
	AttemptStatusAwaiting          AttemptStatus = "AWAITING_CONFIRMATION"
	AttemptStatusSucceeded         AttemptStatus = "SUCCEEDED"
	AttemptStatusFailed            AttemptStatus = "FAILED"
	AttemptStatusRefunded          AttemptStatus = "REFUNDED"
	AttemptStatusPartiallyRefunded AttemptStatus = "PARTIALLY_REFUNDED"
)

// IsTerminal は返金系も含めて「もう前進しない」状態か
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptStatusSucceeded, AttemptStatusFailed,
		AttemptStatusRefunded, AttemptStatusPartiallyRefunded:
		return true
	}
	return false
}

// 監査・返金のため削除しない（updateのみ）
type PaymentAttempt struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID         int64           `gorm:"not null;index" json:"cart_id"`
	Currency       string          `gorm:"type:varchar(10);not null;index" json:"currency"`
	Provider       PaymentProvider `gorm:"type:varchar(20);not null" json:"provider"`
	IdempotencyKey string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`
	ExternalRef    string          `gorm:"type:varchar(255);index" json:"external_ref"`
	// オンチェーンのみ。決済を成立させたtxハッシュ（返金の宛先解決に使う）
	SettledTxHash  string          `gorm:"type:varchar(255)" json:"settled_tx_hash,omitempty"`
	Status         AttemptStatus   `gorm:"type:varchar(30);not null;index" json:"status"`
	Amount         int64           `gorm:"not null" json:"amount"`
	RefundedAmount int64           `gorm:"not null;default:0" json:"refunded_amount"`
	CreatedAt      time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
