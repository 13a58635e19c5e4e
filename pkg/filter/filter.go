// Package filter partitions registry entries into those to keep and those
// to remove.
package filter

import "github.com/entrhq/recent-scrub/pkg/registry"

// Matcher reports whether a location falls under a blacklisted prefix.
// *blacklist.Store satisfies it.
type Matcher interface {
	Matches(location string) bool
}

// Partition is the result of Classify. Both slices preserve input order.
type Partition struct {
	Keep   []registry.Entry
	Remove []registry.Entry
}

// Classify splits entries by matcher. It has no side effects, so the same
// input always yields the same partition.
func Classify(entries []registry.Entry, m Matcher) Partition {
	var p Partition
	for _, e := range entries {
		if m.Matches(e.URI) {
			p.Remove = append(p.Remove, e)
		} else {
			p.Keep = append(p.Keep, e)
		}
	}
	return p
}

// URIs returns the location identifiers of entries.
func URIs(entries []registry.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.URI
	}
	return out
}
