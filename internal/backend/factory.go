package backend

import (
	"context"
	"fmt"

	"dagback/internal/core"
)

// Config is the tagged-union backend configuration: Type selects which
// other fields apply.
type Config struct {
	Type string `toml:"type"` // "filesystem", "b2", or "memory"

	FSRoot string `toml:"fs_root,omitempty"`

	B2AccountID string `toml:"b2_account_id,omitempty"`
	B2AppKey    string `toml:"b2_app_key,omitempty"`
	B2Bucket    string `toml:"b2_bucket,omitempty"`
	B2Prefix    string `toml:"b2_prefix,omitempty"`
}

// New constructs a core.Backend from cfg.
func New(ctx context.Context, cfg Config) (core.Backend, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBackend(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("backend: filesystem backend requires fs_root")
		}
		return NewFilesystemBackend(cfg.FSRoot)
	case "b2":
		if cfg.B2Bucket == "" {
			return nil, fmt.Errorf("backend: b2 backend requires b2_bucket")
		}
		return NewB2Backend(ctx, cfg.B2AccountID, cfg.B2AppKey, cfg.B2Bucket, cfg.B2Prefix)
	default:
		return nil, fmt.Errorf("backend: unknown type %q", cfg.Type)
	}
}
