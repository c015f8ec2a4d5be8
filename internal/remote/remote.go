// Package remote defines the remote backup store capability: a single named
// blob living with a cloud provider, plus its last-modified timestamp and a
// sign-in session. The auto-sync engine treats any provider satisfying this
// contract interchangeably.
package remote

import (
	"context"
	"errors"
	"time"
)

// ErrNotAuthenticated is returned by operations that require a signed-in
// session when none is available.
var ErrNotAuthenticated = errors.New("remote store is not authenticated")

// Store is the provider contract for backup and restore.
type Store interface {
	// Initialize configures the provider with a stored credential, e.g. an
	// access token from a previous session. It does not hit the network.
	Initialize(ctx context.Context, credential string) error

	// IsAuthenticated reports whether a usable session exists.
	IsAuthenticated(ctx context.Context) (bool, error)

	// Authenticate runs the provider's sign-in flow and reports success.
	Authenticate(ctx context.Context) (bool, error)

	// SignOut discards the session.
	SignOut(ctx context.Context) error

	// Download fetches the backup blob, with ok=false when none exists.
	Download(ctx context.Context) (content string, ok bool, err error)

	// Upload replaces the backup blob, returning the provider's new modified
	// timestamp when it reports one.
	Upload(ctx context.Context, content string) (*time.Time, error)

	// LastModified fetches the backup's modification time without content,
	// with ok=false when no backup exists.
	LastModified(ctx context.Context) (modified *time.Time, ok bool, err error)
}
