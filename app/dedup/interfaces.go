package dedup

import (
	"context"
	"time"
)

// Cache maps content fingerprints to the id of the first article seen with
// that fingerprint. Entries live for the dedup window, absolute from first
// sight: a fingerprint becomes eligible again once the window elapses even
// under sustained duplicate traffic (the TTL is never refreshed). Owned
// exclusively by the Parser/Deduper stage.
type Cache interface {
	// PutIfAbsent atomically claims a fingerprint. It returns
	// (true, id) when the caller's insertion won, or
	// (false, ownerID) when the fingerprint is already claimed.
	// The check-and-set is a single round trip: two workers racing on the
	// same fingerprint see exactly one winner.
	PutIfAbsent(ctx context.Context, fingerprint, id string, ttl time.Duration) (bool, string, error)

	// Get returns the owning article id, or "" when the fingerprint is
	// unknown or expired.
	Get(ctx context.Context, fingerprint string) (string, error)
}
