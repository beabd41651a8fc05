package domain

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Decisions is an immutable map of reviewer decisions keyed by row id or
// slot id. It uses copy-on-write semantics: every update returns a new
// Decisions and leaves the receiver untouched, so a snapshot handed to a
// renderer or a store can never change underneath it.
type Decisions[V any] struct {
	// data is unexported to maintain immutability guarantees.
	data map[string]V
}

// NewDecisions creates an empty Decisions.
func NewDecisions[V any]() Decisions[V] {
	return Decisions[V]{data: make(map[string]V)}
}

// DecisionsFrom creates a Decisions holding a copy of m.
func DecisionsFrom[V any](m map[string]V) Decisions[V] {
	if m == nil {
		return NewDecisions[V]()
	}
	return Decisions[V]{data: maps.Clone(m)}
}

// Merge is the single pure update function for decision maps:
// (old, key, value) -> new. The old map is never modified.
func Merge[V any](old Decisions[V], key string, value V) Decisions[V] {
	next := maps.Clone(old.data)
	if next == nil {
		next = make(map[string]V, 1)
	}
	next[key] = value
	return Decisions[V]{data: next}
}

// Without returns a new Decisions with key removed.
func Without[V any](old Decisions[V], key string) Decisions[V] {
	if _, ok := old.data[key]; !ok {
		return old
	}
	next := maps.Clone(old.data)
	delete(next, key)
	return Decisions[V]{data: next}
}

// Get returns the value stored under key.
func (d Decisions[V]) Get(key string) (V, bool) {
	v, ok := d.data[key]
	return v, ok
}

// Len returns the number of entries.
func (d Decisions[V]) Len() int { return len(d.data) }

// Keys returns the keys in sorted order.
func (d Decisions[V]) Keys() []string {
	return slices.Sorted(maps.Keys(d.data))
}

// Snapshot returns a copy of the underlying map safe for the caller to keep.
func (d Decisions[V]) Snapshot() map[string]V {
	if d.data == nil {
		return make(map[string]V)
	}
	return maps.Clone(d.data)
}

// MarshalJSON encodes the decisions as a plain JSON object.
func (d Decisions[V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Snapshot())
}

// UnmarshalJSON decodes a plain JSON object.
func (d *Decisions[V]) UnmarshalJSON(data []byte) error {
	m := make(map[string]V)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	d.data = m
	return nil
}

// ResultMap holds at most one ComparisonResult per row id.
type ResultMap = Decisions[ComparisonResult]

// LabelMap maps global slot ids to user-chosen display names.
type LabelMap = Decisions[string]

// FeedbackMap holds JSON-mode review feedback keyed by suggestion set id.
type FeedbackMap = Decisions[SuggestionFeedback]

// SnapshotVersion is the persisted layout version written with every
// SessionSnapshot.
const SnapshotVersion = "1.1"

// SessionSnapshot is the persisted form of every decision taken on one
// input text. It is always written whole.
type SessionSnapshot struct {
	Results   ResultMap   `json:"results"`
	Labels    LabelMap    `json:"labels"`
	Feedbacks FeedbackMap `json:"feedbacks"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version"`
}

// NewSessionSnapshot returns an empty snapshot at the current version.
func NewSessionSnapshot() SessionSnapshot {
	return SessionSnapshot{
		Results:   NewDecisions[ComparisonResult](),
		Labels:    NewDecisions[string](),
		Feedbacks: NewDecisions[SuggestionFeedback](),
		Version:   SnapshotVersion,
	}
}
