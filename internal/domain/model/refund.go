package model

import "time"

type RefundStatus string

const (
	RefundStatusPending RefundStatus = "PENDING"
	// 発行者が確保済み。二重送金防止のためPENDINGからの条件付きUPDATEでのみ入る
	RefundStatusInProgress RefundStatus = "IN_PROGRESS"
	RefundStatusIssued     RefundStatus = "ISSUED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

// 補償返金の監査ログ。FAILEDになったらmanual_reviewで人が拾う。
type Refund struct {
	ID               int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentAttemptID int64        `gorm:"not null;index" json:"payment_attempt_id"`
	OrderID          *int64       `gorm:"index" json:"order_id,omitempty"`
	Amount           int64        `gorm:"not null" json:"amount"`
	Currency         string       `gorm:"type:varchar(10);not null" json:"currency"`
	Reason           string       `gorm:"type:varchar(255);not null" json:"reason"`
	Status           RefundStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ExternalRef      string       `gorm:"type:varchar(255)" json:"external_ref"`
	Attempts         int          `gorm:"not null;default:0" json:"attempts"`
	CreatedAt        time.Time    `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
