// Package watcher keeps registries scrubbed for the lifetime of a session.
//
// A Watcher owns one event loop. Change notifications from every target are
// funnelled into it, debounced per target, and turned into scrub cycles that
// run one at a time on the loop goroutine.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/recent-scrub/pkg/logging"
	"github.com/entrhq/recent-scrub/pkg/registry"
	"github.com/entrhq/recent-scrub/pkg/scrub"
)

// DefaultDebounce is the coalescing window used when none is configured.
const DefaultDebounce = time.Second

// ErrNoTargets is returned by Run when there is nothing to scrub.
var ErrNoTargets = errors.New("watcher: no registry targets")

// State is the watcher's lifecycle state.
type State int32

const (
	Initializing State = iota
	Watching
	Scrubbing
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Watching:
		return "watching"
	case Scrubbing:
		return "scrubbing"
	case ShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Mode selects what Run does.
type Mode int

const (
	// Watch scrubs every target, then keeps scrubbing on change until the
	// context is cancelled.
	Watch Mode = iota
	// Once scrubs every target once.
	Once
	// Purge empties every target once, ignoring the blacklist.
	Purge
)

// Scrubber runs cycles against one registry. *scrub.Controller implements it.
type Scrubber interface {
	RunOnce(ctx context.Context, a registry.Adapter) (scrub.Result, error)
	Purge(ctx context.Context, a registry.Adapter) (scrub.Result, error)
}

// Reloader is a blacklist that can be re-read from its file.
// *blacklist.Store implements it.
type Reloader interface {
	Path() string
	Reload() error
}

// Watcher drives scrub cycles for a fixed set of targets.
type Watcher struct {
	targets  []registry.Adapter
	scrubber Scrubber
	log      *logging.Logger

	debounce time.Duration
	reload   Reloader
	onResult func(scrub.Result)

	state atomic.Int32
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the coalescing window. Zero scrubs on every notification.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watcher) {
		w.log = l
	}
}

// WithBlacklistReload re-reads the blacklist whenever its file changes and
// re-scrubs every target with the new contents.
func WithBlacklistReload(r Reloader) Option {
	return func(w *Watcher) {
		w.reload = r
	}
}

// OnResult registers fn to be called on the loop goroutine after every cycle.
func OnResult(fn func(scrub.Result)) Option {
	return func(w *Watcher) {
		w.onResult = fn
	}
}

// New returns a watcher for targets.
func New(targets []registry.Adapter, s Scrubber, opts ...Option) *Watcher {
	w := &Watcher{
		targets:  targets,
		scrubber: s,
		log:      logging.Nop(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

func (w *Watcher) setState(s State) {
	if old := State(w.state.Swap(int32(s))); old != s {
		w.log.Debugf("state %s -> %s", old, s)
	}
}

// Run executes mode. In Watch mode it returns nil once ctx is cancelled; a
// cycle pending in its debounce window at that point is dropped.
//
// Per-target failures never stop the other targets. In Once and Purge modes
// they are combined into the returned error.
func (w *Watcher) Run(ctx context.Context, mode Mode) error {
	w.setState(Initializing)
	defer w.setState(ShuttingDown)

	if len(w.targets) == 0 {
		return ErrNoTargets
	}

	switch mode {
	case Once:
		return w.sweep(ctx, w.scrubber.RunOnce)
	case Purge:
		return w.sweep(ctx, w.scrubber.Purge)
	case Watch:
		return w.watch(ctx)
	default:
		return fmt.Errorf("watcher: unknown mode %d", mode)
	}
}

type cycleFunc func(context.Context, registry.Adapter) (scrub.Result, error)

// sweep runs fn for every target in order.
func (w *Watcher) sweep(ctx context.Context, fn cycleFunc) error {
	var errs error
	for i := range w.targets {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, w.cycle(ctx, i, fn))
	}
	return errs
}

// cycle runs fn for one target and reports the outcome.
func (w *Watcher) cycle(ctx context.Context, i int, fn cycleFunc) error {
	prev := w.State()
	w.setState(Scrubbing)
	defer w.setState(prev)

	t := w.targets[i]
	res, err := fn(ctx, t)
	if err != nil {
		w.log.Errorf("cycle on %s failed: %v", t.Name(), err)
	}
	if w.onResult != nil {
		w.onResult(res)
	}
	return err
}

// reloadIdx is the event index used for blacklist file changes.
const reloadIdx = -1

func (w *Watcher) watch(ctx context.Context) error {
	// Subscribe before the initial scrub so that changes made while it runs
	// are not missed.
	var subs []*registry.Subscription
	type source struct {
		idx int
		c   <-chan struct{}
	}
	var sources []source

	defer func() {
		for _, s := range subs {
			if err := s.Close(); err != nil {
				w.log.Warnf("closing subscription: %v", err)
			}
		}
	}()

	for i, t := range w.targets {
		sub, err := t.Subscribe()
		if err != nil {
			w.log.Warnf("cannot watch %s, it will only be scrubbed at startup: %v", t.Name(), err)
			continue
		}
		subs = append(subs, sub)
		sources = append(sources, source{idx: i, c: sub.C})
	}

	if w.reload != nil {
		sub, err := registry.WatchFile(w.reload.Path(), w.log)
		if err != nil {
			w.log.Warnf("blacklist changes will not be picked up: %v", err)
		} else {
			subs = append(subs, sub)
			sources = append(sources, source{idx: reloadIdx, c: sub.C})
		}
	}

	for i := range w.targets {
		if ctx.Err() != nil {
			return nil
		}
		_ = w.cycle(ctx, i, w.scrubber.RunOnce)
	}

	if len(sources) == 0 {
		return fmt.Errorf("%w: none could be watched", ErrNoTargets)
	}

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()

	events := make(chan int)
	g, gctx := errgroup.WithContext(loopCtx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			return pump(gctx, src.idx, src.c, events)
		})
	}

	w.loop(loopCtx, events)
	stop()
	return g.Wait()
}

// pump forwards notifications from c as idx until ctx is done or c closes.
func pump(ctx context.Context, idx int, c <-chan struct{}, out chan<- int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-c:
			if !ok {
				return nil
			}
			select {
			case out <- idx:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// loop is the single consumer of events. The first notification for a
// source arms its window; later ones inside the window are absorbed.
func (w *Watcher) loop(ctx context.Context, events <-chan int) {
	w.setState(Watching)

	due := make(chan int)
	pending := make(map[int]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.setState(ShuttingDown)
			if len(pending) > 0 {
				w.log.Debugf("dropping %d pending cycles", len(pending))
			}
			return

		case idx := <-events:
			if w.debounce <= 0 {
				w.handle(ctx, idx)
				continue
			}
			if _, armed := pending[idx]; armed {
				continue
			}
			pending[idx] = time.AfterFunc(w.debounce, func() {
				select {
				case due <- idx:
				case <-ctx.Done():
				}
			})

		case idx := <-due:
			delete(pending, idx)
			w.handle(ctx, idx)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, idx int) {
	if idx != reloadIdx {
		_ = w.cycle(ctx, idx, w.scrubber.RunOnce)
		return
	}

	if err := w.reload.Reload(); err != nil {
		// The store keeps its previous contents on failure.
		w.log.Errorf("blacklist reload failed, keeping previous entries: %v", err)
		return
	}
	w.log.Infof("blacklist %s reloaded, re-scrubbing all targets", w.reload.Path())
	for i := range w.targets {
		if ctx.Err() != nil {
			return
		}
		_ = w.cycle(ctx, i, w.scrubber.RunOnce)
	}
}
