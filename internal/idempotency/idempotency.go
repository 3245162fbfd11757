// Package idempotency remembers client-supplied idempotency keys so a retried
// request is not executed twice.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long a claimed key is remembered.
const DefaultTTL = 24 * time.Hour

// Store records claimed idempotency keys.
type Store interface {
	// Claim reserves key for ttl and stores value with it. It returns false
	// when the key is already claimed and not yet expired.
	Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Lookup returns the value stored with a live key.
	Lookup(ctx context.Context, key string) (string, bool, error)

	// Release forgets key so the request can be retried, e.g. after it failed.
	Release(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}

// Key namespaces a client key by operation and caller.
func Key(operation, userID, clientKey string) string {
	return operation + ":" + userID + ":" + clientKey
}
