package model

import "time"

// 返金発行、手動レビュー昇格など、金が動く操作の記録。
type AuditAction string

const (
	//返金を発行した。
	AuditActionRefundIssued AuditAction = "REFUND_ISSUED"
	//返金の発行に失敗した（リトライ使い切り）。
	AuditActionRefundFailed AuditAction = "REFUND_FAILED"
	//注文を手動レビュー対象にした。
	AuditActionManualReview AuditAction = "MANUAL_REVIEW"
)

// 何に対する操作か
type AuditResourceType string

const (
	//注文に対する操作。
	AuditResourceOrder AuditResourceType = "order"

	//決済試行に対する操作。
	AuditResourceAttempt AuditResourceType = "payment_attempt"

	//返金に対する操作。
	AuditResourceRefund AuditResourceType = "refund"
)

// 監査ログ。「何が」「どの対象に」「どう変わったか」を残す。
// actor_user_id=0 はシステム起点の操作。
type AuditLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	ActorUserID int64 `gorm:"not null;index;default:0" json:"actor_user_id"`

	//操作の種類（REFUND_ISSUED / REFUND_FAILED / MANUAL_REVIEW）。
	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	//対象の種類（order / payment_attempt / refund）。
	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	ResourceID int64 `gorm:"not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	//JSON文字列で保存する。
	AfterJSON string `gorm:"type:text" json:"after_json"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
