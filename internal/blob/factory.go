package blob

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and parameterises a driver. Root only applies to the
// filesystem driver and S3 only to the s3 driver.
type Config struct {
	Driver Driver   `yaml:"driver" json:"driver"`
	Root   string   `yaml:"root" json:"root"`
	S3     S3Config `yaml:"s3" json:"s3"`
}

// Open builds a Store for cfg. An empty driver means the local filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(string(cfg.Driver)))) {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.Driver)
	}
}
