// Package registrytest provides an in-memory registry.Adapter for tests.
package registrytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/recent-scrub/pkg/registry"
)

// Fake is an in-memory registry. Its zero value is not usable; use New.
type Fake struct {
	name string
	file string

	mu        sync.Mutex
	entries   []registry.Entry
	removed   []string
	purges    int
	lists     int
	subs      []chan struct{}
	listErr   error
	removeErr map[string]error

	// BeforeRemove, when set, runs before each Remove with the lock
	// released. Tests use it to simulate concurrent writers.
	BeforeRemove func(uri string)
}

var _ registry.Adapter = (*Fake)(nil)

// New returns a fake registry holding entries for the given URIs.
func New(name string, uris ...string) *Fake {
	f := &Fake{name: name, removeErr: make(map[string]error)}
	for _, u := range uris {
		f.entries = append(f.entries, registry.Entry{URI: u})
	}
	return f
}

// SetBackingFile makes BackingFile report path.
func (f *Fake) SetBackingFile(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.file = path
}

// Add appends entries and notifies subscribers.
func (f *Fake) Add(uris ...string) {
	f.mu.Lock()
	for _, u := range uris {
		f.entries = append(f.entries, registry.Entry{URI: u})
	}
	f.mu.Unlock()
	f.Touch()
}

// Drop removes an entry without recording it, as another application would.
func (f *Fake) Drop(uri string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = without(f.entries, uri)
}

// Touch sends a change notification to every subscriber.
func (f *Fake) Touch() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.subs {
		registry.Notify(c)
	}
}

// FailList makes List return err until cleared with nil.
func (f *Fake) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// FailRemove makes Remove(uri) return err.
func (f *Fake) FailRemove(uri string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeErr[uri] = err
}

// URIs returns the URIs currently held.
func (f *Fake) URIs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.URI
	}
	return out
}

// Removed returns the URIs removed through Remove, in call order.
func (f *Fake) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

// Purges returns how many times Purge was called.
func (f *Fake) Purges() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purges
}

// Lists returns how many times List was called.
func (f *Fake) Lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) BackingFile() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file, f.file != ""
}

func (f *Fake) List(ctx context.Context) ([]registry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]registry.Entry(nil), f.entries...), nil
}

func (f *Fake) Remove(ctx context.Context, uri string) error {
	if f.BeforeRemove != nil {
		f.BeforeRemove(uri)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[uri]; err != nil {
		return err
	}
	n := len(f.entries)
	f.entries = without(f.entries, uri)
	if len(f.entries) == n {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, uri)
	}
	f.removed = append(f.removed, uri)
	return nil
}

func (f *Fake) Purge(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purges++
	n := len(f.entries)
	f.entries = nil
	return n, nil
}

func (f *Fake) Subscribe() (*registry.Subscription, error) {
	c := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs = append(f.subs, c)
	f.mu.Unlock()

	return registry.NewSubscription(c, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s == c {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
		return nil
	}), nil
}

func without(entries []registry.Entry, uri string) []registry.Entry {
	out := entries[:0]
	for _, e := range entries {
		if e.URI != uri {
			out = append(out, e)
		}
	}
	return out
}
