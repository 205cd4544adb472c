package model

import "time"

type OrderStatus string

const (
	OrderStatusSettled  OrderStatus = "SETTLED"
	OrderStatusShipped  OrderStatus = "SHIPPED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// 全CurrencyGroupがSUCCEEDEDのときだけFinalizeUsecaseが作る。
// cart_idのuniqueIndexで「1カート1注文」をDBでも保証する。
type Order struct {
	ID           int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64       `gorm:"not null;index" json:"user_id"`
	CartID       int64       `gorm:"not null;uniqueIndex" json:"cart_id"`
	Status       OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ManualReview bool        `gorm:"not null;default:false" json:"manual_review"`
	CreatedAt    time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
