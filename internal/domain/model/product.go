package model

import (
	"time"

	"gorm.io/gorm"
)

type Availability string

const (
	AvailabilityAvailable   Availability = "AVAILABLE"
	AvailabilityLimited     Availability = "LIMITED"
	AvailabilitySold        Availability = "SOLD"
	AvailabilityUnavailable Availability = "UNAVAILABLE"
)

// NFT商品は stock=1 固定、注文確定時に SOLD にする
type Product struct {
	ID           int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string         `gorm:"type:varchar(255);not null" json:"name"`
	Description  string         `gorm:"type:text" json:"description"`
	Price        int64          `gorm:"not null" json:"price"`
	Currency     string         `gorm:"type:varchar(10);not null;index" json:"currency"`
	Stock        int64          `gorm:"not null" json:"stock"`
	IsNFT        bool           `gorm:"not null;default:false" json:"is_nft"`
	TokenMint    string         `gorm:"type:varchar(64)" json:"token_mint,omitempty"`
	Availability Availability   `gorm:"type:varchar(20);not null;default:'AVAILABLE'" json:"availability"`
	IsActive     bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt    time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
