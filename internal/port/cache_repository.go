package port

import "context"

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// SetOnHand refreshes the read-side on-hand cache for a variant
	SetOnHand(ctx context.Context, variantID string, onHand int) error

	// GetOnHand returns the cached on-hand value; ok is false on a miss
	GetOnHand(ctx context.Context, variantID string) (int, bool, error)
}
