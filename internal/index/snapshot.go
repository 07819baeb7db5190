// Package index maintains the in-memory inverted search index: three
// attribute→id-set mappings rebuilt from document-store snapshots and
// published through an atomic pointer swap.
package index

import (
	"time"

	"github.com/mealex/peerdir/internal/profile"
)

// IDSet is a set of profile ids.
type IDSet map[string]struct{}

// Snapshot is one fully built index generation. It is immutable after
// construction: rebuilds create a new Snapshot and swap the published
// reference, never mutate in place.
type Snapshot struct {
	byMajor map[string]IDSet
	byYear  map[string]IDSet
	byTag   map[string]IDSet

	builtAt  time.Time
	profiles int
}

// Build constructs a Snapshot from a full profile listing in a single pass.
func Build(records map[string]profile.Record, builtAt time.Time) *Snapshot {
	s := &Snapshot{
		byMajor:  make(map[string]IDSet),
		byYear:   make(map[string]IDSet),
		byTag:    make(map[string]IDSet),
		builtAt:  builtAt,
		profiles: len(records),
	}
	for id, rec := range records {
		if rec.Major != "" {
			addTo(s.byMajor, rec.Major, id)
		}
		if rec.Year != "" {
			addTo(s.byYear, rec.Year, id)
		}
		for _, tag := range rec.Tags {
			if tag != "" {
				addTo(s.byTag, tag, id)
			}
		}
	}
	return s
}

func addTo(m map[string]IDSet, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(IDSet)
		m[key] = set
	}
	set[id] = struct{}{}
}

// Major returns the id set for a major; a missing key yields an empty set.
func (s *Snapshot) Major(value string) IDSet { return s.byMajor[value] }

// Year returns the id set for a class year.
func (s *Snapshot) Year(value string) IDSet { return s.byYear[value] }

// Tag returns the id set for a tag.
func (s *Snapshot) Tag(value string) IDSet { return s.byTag[value] }

// BuiltAt reports when this generation was constructed.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Profiles reports how many records this generation indexed.
func (s *Snapshot) Profiles() int { return s.profiles }
