// Storage for per-account string flags, used as enforcement state by flag-backed enforcers.
//
// Includes an interface and implementations using redis and in-process memory.
package flagstore

import (
	"context"
)

type FlagStore interface {
	Get(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, flags []string) error
	Remove(ctx context.Context, key string, flags []string) error
}
