// Package rejections tracks which texts each user has skipped. A
// skipped text is never assigned to the same user again, so the sets
// must survive the user's session; they live in redis, with an
// in-process fallback for single-node deployments without one.
package rejections

import "context"

// Store records and queries per-user skipped texts.
type Store interface {
	Reject(ctx context.Context, userID, textID int64) error
	Rejected(ctx context.Context, userID int64) (map[int64]struct{}, error)
	Close() error
}
