// Package scrub runs one cleaning pass over a registry: list its entries,
// remove those the blacklist matches, and restrict the backing file's mode.
package scrub

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/entrhq/recent-scrub/pkg/filter"
	"github.com/entrhq/recent-scrub/pkg/logging"
	"github.com/entrhq/recent-scrub/pkg/permissions"
	"github.com/entrhq/recent-scrub/pkg/registry"
)

// ErrNoBlacklist is returned by RunOnce when the controller has no
// blacklist. Scrubbing without one would be unfiltered, so nothing is done.
var ErrNoBlacklist = errors.New("scrub: no blacklist loaded")

// Result summarises one cycle. It carries counts only.
type Result struct {
	Target string

	// Examined is the number of entries listed.
	Examined int
	// Removed is the number of entries this cycle deleted.
	Removed int
	// Raced counts matched entries that were already gone when removed.
	Raced int
	// Failed counts removals that failed for any other reason.
	Failed int
	// Purged is the number of entries deleted by Purge.
	Purged int

	PermissionFixed     bool
	PermissionFixFailed bool
}

// Controller runs scrub cycles. One controller serves all targets; it is not
// safe for concurrent use on the same target.
type Controller struct {
	blacklist filter.Matcher
	fs        afero.Fs
	log       *logging.Logger
}

// NewController returns a controller filtering with blacklist. fs is used for
// permission enforcement on backing files.
func NewController(blacklist filter.Matcher, fs afero.Fs, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{blacklist: blacklist, fs: fs, log: log}
}

// RunOnce removes every entry of a whose location the blacklist matches.
//
// Entries that vanish between listing and removal are counted as raced, not
// as failures. Other removal errors do not stop the cycle; they are combined
// into the returned error alongside the partial Result.
func (c *Controller) RunOnce(ctx context.Context, a registry.Adapter) (Result, error) {
	res := Result{Target: a.Name()}
	if c.blacklist == nil {
		return res, ErrNoBlacklist
	}
	log := c.log.With(zap.String("target", a.Name()))

	entries, err := a.List(ctx)
	if err != nil {
		return res, fmt.Errorf("scrub: list %s: %w", a.Name(), err)
	}
	res.Examined = len(entries)

	part := filter.Classify(entries, c.blacklist)

	var errs error
	for _, e := range part.Remove {
		if err := ctx.Err(); err != nil {
			return res, multierr.Append(errs, err)
		}
		err := a.Remove(ctx, e.URI)
		switch {
		case err == nil:
			res.Removed++
		case errors.Is(err, registry.ErrNotFound):
			res.Raced++
			log.Debugf("entry already removed by another writer")
		default:
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("scrub: remove from %s: %w", a.Name(), err))
		}
	}

	c.enforce(log, a, &res)

	if res.Removed > 0 || res.Failed > 0 {
		log.Infof("scrubbed %d of %d entries (%d raced, %d failed)", res.Removed, res.Examined, res.Raced, res.Failed)
	} else {
		log.Debugf("nothing to scrub among %d entries", res.Examined)
	}
	return res, errs
}

// Purge deletes every entry of a regardless of the blacklist, then restricts
// the backing file's mode.
func (c *Controller) Purge(ctx context.Context, a registry.Adapter) (Result, error) {
	res := Result{Target: a.Name()}
	log := c.log.With(zap.String("target", a.Name()))

	n, err := a.Purge(ctx)
	res.Purged = n
	if err != nil {
		return res, fmt.Errorf("scrub: purge %s: %w", a.Name(), err)
	}

	c.enforce(log, a, &res)
	log.Infof("purged %d entries", n)
	return res, nil
}

func (c *Controller) enforce(log *logging.Logger, a registry.Adapter, res *Result) {
	path, ok := a.BackingFile()
	if !ok {
		log.Warnf("registry has no backing file; permissions not enforced")
		return
	}

	fixed, err := permissions.Enforce(c.fs, path)
	switch {
	case err == nil:
		res.PermissionFixed = fixed
		if fixed {
			log.Infof("restricted registry file to owner-only access")
		}
	case errors.Is(err, os.ErrNotExist):
		log.Debugf("registry file does not exist yet")
	default:
		res.PermissionFixFailed = true
		log.Warnf("could not restrict registry file: %v", err)
	}
}
