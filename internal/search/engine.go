// Package search answers filter queries by intersecting inverted-index id
// sets against a single index snapshot.
package search

import (
	"sort"

	"github.com/mealex/peerdir/internal/index"
)

// Query is an optional combination of exact-match predicates. Tags combine
// as logical AND: a matching profile carries every listed tag.
type Query struct {
	Major string
	Year  string
	Tags  []string
}

// Empty reports whether no predicate is present.
func (q Query) Empty() bool {
	return q.Major == "" && q.Year == "" && len(q.Tags) == 0
}

// Engine resolves queries against the index builder's published snapshot.
type Engine struct {
	builder *index.Builder
}

func NewEngine(builder *index.Builder) *Engine {
	return &Engine{builder: builder}
}

// Search returns the sorted ids matching every present predicate. A query
// with no predicates returns no ids: search requires at least one filter and
// never degenerates into a full scan. The snapshot reference is acquired
// exactly once, so a concurrent rebuild swap cannot be observed mid-query.
func (e *Engine) Search(q Query) []string {
	if q.Empty() {
		return nil
	}
	snapshot := e.builder.Current()

	// result == nil means "unconstrained so far"; an empty non-nil set is a
	// definitive empty answer.
	var result index.IDSet
	if q.Major != "" {
		result = intersect(result, snapshot.Major(q.Major))
	}
	if q.Year != "" {
		result = intersect(result, snapshot.Year(q.Year))
	}
	for _, tag := range q.Tags {
		result = intersect(result, snapshot.Tag(tag))
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func intersect(current, constraint index.IDSet) index.IDSet {
	if current == nil {
		// First predicate: copy so later intersections never touch the
		// snapshot's own sets.
		out := make(index.IDSet, len(constraint))
		for id := range constraint {
			out[id] = struct{}{}
		}
		return out
	}
	for id := range current {
		if _, ok := constraint[id]; !ok {
			delete(current, id)
		}
	}
	return current
}
