package storage

import (
	"fmt"

	"github.com/crashdock/crashdock/pkg/config"
)

// NewFromConfig creates a storage instance based on the configured type
func NewFromConfig(cfg *config.StorageConfig) (BlobStorage, error) {
	switch cfg.Type {
	case "local":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
