package storage

import (
	"context"
	"fmt"

	"github.com/cppla/storefront/config"
)

// Open returns the Store selected by STORAGE_DRIVER.
func Open(ctx context.Context, cfg config.AppConfig) (Store, error) {
	switch cfg.StorageDriver {
	case "local", "":
		return NewLocalStore(cfg.StorageRoot)
	case "s3":
		return NewS3StoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}
