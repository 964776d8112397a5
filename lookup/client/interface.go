// Package client defines the narrow interfaces through which the lookup
// engine talks to its network collaborators. HTTP implementations live in
// the http subpackage.
package client

import (
	"context"

	"github.com/userloc/go-userloc/lookup/model"
)

// UpstreamSource supplies live user metadata from the rate-limited upstream
// API. Implementations pass opaque credentials through and surface failures
// as classified apierror values; they never retry on their own, because
// retry policy belongs to the rate limiter.
type UpstreamSource interface {
	// Fetch gets metadata for one username. A nil info with nil error means
	// the upstream answered and found nothing.
	Fetch(ctx context.Context, username string) (*model.UserInfo, error)
	// String returns a description of the source.
	String() string
}

// SharedCache is the community cache consulted between the local cache and
// the live API. Both operations are best-effort for the engine: failures
// degrade to "no shared-cache data" and must not abort a lookup.
type SharedCache interface {
	// LookupBatch returns entries for the given usernames. Absent keys are
	// simply missing from the result map.
	LookupBatch(ctx context.Context, usernames []string) (map[string]*model.UserInfo, error)
	// Contribute publishes a live lookup result for other users of the
	// shared cache.
	Contribute(ctx context.Context, username string, info *model.UserInfo) error
	// String returns a description of the shared cache endpoint.
	String() string
}
