package models

import "time"

// StaleFile records a stored file whose owning row is gone but whose bytes still need removal.
type StaleFile struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Path       string     `gorm:"size:1024;not null" json:"path"`
	Visibility Visibility `gorm:"size:8;not null" json:"visibility"`
	Attempts   int        `gorm:"not null;default:0" json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `gorm:"index" json:"updated_at"`
}
