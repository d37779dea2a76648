package models

import "time"

// Offering is a catalog item that can be ordered.
type Offering struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Price       float64   `gorm:"not null" json:"price"`
	Image       *string   `gorm:"size:512" json:"image"`
	Enabled     bool      `gorm:"not null;index" json:"enabled"`
	Featured    bool      `gorm:"not null;default:false" json:"featured"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Assets      []Asset   `gorm:"many2many:offering_assets;" json:"assets"`
}
