package models

import "time"

// Visibility decides who may read a stored file.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Asset records an uploaded file. Path is the storage key inside the area selected by Visibility.
type Asset struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Filename     string     `gorm:"size:255;not null" json:"filename"`
	Mimetype     string     `gorm:"size:128;not null" json:"mimetype"`
	Size         int64      `gorm:"not null" json:"size"`
	Path         string     `gorm:"size:1024;not null" json:"path"`
	Visibility   Visibility `gorm:"size:8;not null;index" json:"visibility"`
	UploadedByID uint       `gorm:"index;not null" json:"uploaded_by"`
	UploadedAt   time.Time  `gorm:"autoCreateTime;index" json:"uploaded_at"`
}
