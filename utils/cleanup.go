package utils

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/storage"
)

// SweepStaleFiles removes up to limit files recorded in stale_files. Rows are deleted once
// their file is gone; failures bump the attempt counter and are retried on the next sweep.
// It returns how many files were removed.
func SweepStaleFiles(ctx context.Context, db *gorm.DB, store storage.Store, logger *zap.Logger, limit int) (int, error) {
	var items []models.StaleFile
	if err := db.WithContext(ctx).Order("updated_at ASC").Limit(limit).Find(&items).Error; err != nil {
		return 0, err
	}
	removed := 0
	for _, it := range items {
		if err := store.Remove(ctx, it.Visibility, it.Path); err != nil {
			logger.Warn("stale file removal failed", zap.String("path", it.Path), zap.Int("attempts", it.Attempts+1), zap.Error(err))
			_ = db.WithContext(ctx).Model(&models.StaleFile{}).Where("id = ?", it.ID).
				UpdateColumns(map[string]interface{}{"attempts": gorm.Expr("attempts + 1"), "updated_at": time.Now()}).Error
			continue
		}
		if err := db.WithContext(ctx).Delete(&models.StaleFile{}, it.ID).Error; err != nil {
			logger.Warn("stale file row delete failed", zap.Uint("id", it.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// StartStaleFileSweeper launches a background goroutine that periodically calls SweepStaleFiles
// until ctx is cancelled.
func StartStaleFileSweeper(ctx context.Context, db *gorm.DB, store storage.Store, logger *zap.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := SweepStaleFiles(ctx, db, store, logger, 100); err != nil {
					logger.Warn("stale file sweep failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("stale files removed", zap.Int("count", n))
				}
			}
		}
	}()
}
