package visibility

import (
	"context"

	"github.com/userloc/go-userloc/lookup/model"
	"github.com/userloc/go-userloc/ucache"
)

// Element is a handle to one on-screen item that may carry a username, such
// as a post or profile card. Implementations must be usable as map keys.
type Element interface {
	// Username extracts the username the element displays. The second
	// return is false when the element carries no extractable name.
	Username() (string, bool)
}

// Observer defers an element's processing until it is about to become
// visible. A Scheduler with no Observer processes elements immediately.
type Observer interface {
	Observe(Element)
	Unobserve(Element)
}

// Renderer applies a lookup result to an element. Render receives a nil
// UserInfo for a definitive negative answer. Clear removes a previously
// applied annotation, used when a recycled element changes identity.
type Renderer interface {
	Render(Element, *model.UserInfo)
	Clear(Element)
}

// Lookup resolves a username to its metadata. It is typically the Lookup
// method of a ucache.UserCache.
type Lookup func(ctx context.Context, username string) (ucache.Result, error)
