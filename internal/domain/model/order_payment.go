package model

import "time"

// 注文を決済したPaymentAttemptの記録（通貨別の確定金額つき）
type OrderPayment struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID          int64     `gorm:"not null;index" json:"order_id"`
	PaymentAttemptID int64     `gorm:"not null;index" json:"payment_attempt_id"`
	Currency         string    `gorm:"type:varchar(10);not null" json:"currency"`
	Amount           int64     `gorm:"not null" json:"amount"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
