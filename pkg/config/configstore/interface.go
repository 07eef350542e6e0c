package configstore

import "context"

// ConfigStore persists one configuration value. Load decodes into out,
// which must be a pointer.
type ConfigStore interface {
	Load(ctx context.Context, out any) error
	Save(ctx context.Context, data any) error
}
