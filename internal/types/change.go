package types

import "time"

// ChangeKind enumerates tip lifecycle transitions.
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeReported  ChangeKind = "reported"
	ChangeCommented ChangeKind = "commented"
	ChangeDeleted   ChangeKind = "deleted"
	ChangeExpired   ChangeKind = "expired"
	// ChangeReplaced marks a wholesale swap of the collection, either from the
	// initial load or from a remote snapshot.
	ChangeReplaced ChangeKind = "replaced"
)

// Change describes one mutation of the canonical collection. Tip is the
// record the mutation applied to (zero for ChangeReplaced) and Snapshot is the
// full collection afterwards, newest first.
type Change struct {
	Kind     ChangeKind
	Tip      Tip
	Snapshot []Tip
	At       time.Time
}
