// Package registry defines the boundary to the desktop "recently used files"
// registry: listing entries, removing them, purging and change notification.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Remove when the entry is already gone,
	// typically because another application removed it first.
	ErrNotFound = errors.New("registry: entry not found")

	// ErrUnavailable is returned when a registry cannot be reached.
	ErrUnavailable = errors.New("registry: registry unavailable")
)

// Entry is one item of the recently used list. The registry owns it; callers
// only read it and ask for its removal by URI.
type Entry struct {
	URI          string
	MimeType     string
	Applications []string
	Added        time.Time
	Modified     time.Time
	Visited      time.Time
}

// Adapter is one registry instance.
type Adapter interface {
	// Name identifies the registry in logs.
	Name() string

	// List returns the entries as they are at call time.
	List(ctx context.Context) ([]Entry, error)

	// Remove deletes the entry with the given URI. It returns an error
	// wrapping ErrNotFound when no such entry exists.
	Remove(ctx context.Context, uri string) error

	// Purge deletes every entry and returns how many there were.
	Purge(ctx context.Context) (int, error)

	// Subscribe starts change notification. Notifications carry no detail;
	// each one means "the registry may have changed, re-list it".
	Subscribe() (*Subscription, error)

	// BackingFile returns the on-disk file behind the registry, if any.
	BackingFile() (string, bool)
}

// Subscription delivers change notifications on C until closed. Bursts may be
// collapsed into a single notification.
type Subscription struct {
	C <-chan struct{}

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

// NewSubscription wraps a notification channel and its release function.
func NewSubscription(c <-chan struct{}, closeFn func() error) *Subscription {
	return &Subscription{C: c, closeFn: closeFn}
}

// Close stops notifications. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// Notify performs a non-blocking send on a notification channel with a
// buffer of one, collapsing notifications the receiver has not consumed yet.
func Notify(c chan<- struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}
