package pagequery

import (
	"context"

	"github.com/hazyhaar/couponclip/model"
)

// Page is a browser page that answers semantic queries.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL() string

	// Query resolves s against the current page. A nil node with a nil
	// error means nothing matched; errors are reserved for driver failures.
	Query(ctx context.Context, s Schema) (*Node, error)

	// WaitIdle blocks until the framework reports the page loaded and the
	// DOM stable, bounded by the driver's own timeout.
	WaitIdle(ctx context.Context) error
}

// Session is one isolated browser context driving a single page. It is
// owned by exactly one request and must be closed on every exit path.
type Session interface {
	Page
	StorageState(ctx context.Context) (*model.StorageState, error)
	RestoreStorageState(ctx context.Context, state *model.StorageState) error
	Close() error
}

// Launcher starts isolated browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
