package registry

import "time"

// Lifecycle is the sync state of a managed channel. Transitions go through
// Store.Transition, which validates against the transition table and writes
// an audit row; "deleted" is reachable only that way.
type Lifecycle string

const (
	LifecycleCreated  Lifecycle = "created"
	LifecycleInSync   Lifecycle = "in_sync"
	LifecycleDrifted  Lifecycle = "drifted"
	LifecycleOrphaned Lifecycle = "orphaned"
	LifecycleDeleted  Lifecycle = "deleted"
	// LifecycleError marks a channel whose last external write was rejected.
	// The registry entry is kept; the next reconciliation pass retries.
	LifecycleError Lifecycle = "error"
)

var lifecycleTransitions = map[Lifecycle][]Lifecycle{
	LifecycleCreated:  {LifecycleInSync, LifecycleError, LifecycleDeleted},
	LifecycleInSync:   {LifecycleDrifted, LifecycleOrphaned, LifecycleError, LifecycleDeleted},
	LifecycleDrifted:  {LifecycleInSync, LifecycleOrphaned, LifecycleError, LifecycleDeleted},
	LifecycleOrphaned: {LifecycleInSync, LifecycleDeleted},
	LifecycleError:    {LifecycleInSync, LifecycleDrifted, LifecycleOrphaned, LifecycleDeleted},
	LifecycleDeleted:  {},
}

// CanTransition reports whether a lifecycle change is allowed.
func CanTransition(from, to Lifecycle) bool {
	for _, allowed := range lifecycleTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StreamSource distinguishes streams discovered in the channel's own group
// from those contributed by a child group. Own-group streams always order
// before child-group streams.
type StreamSource string

const (
	SourceOwnGroup   StreamSource = "own"
	SourceChildGroup StreamSource = "child"
)

// Identity is a channel's immutable identity key. PrimaryStreamID is set
// only under separate semantics; CanonicalKeyword only under keyword
// consolidation. A change in identity means a new channel, never an update.
type Identity struct {
	GroupID          int64
	EventID          string
	PrimaryStreamID  string
	CanonicalKeyword string
}

// Channel is one registry entry for a managed channel.
type Channel struct {
	ID          int64
	Identity    Identity
	League      string
	Sport       string
	EventStart  time.Time
	Name        string
	Number      int64
	Marker      string
	ExternalID  string
	Lifecycle   Lifecycle
	LastError   string
	DeleteAfter *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChannelStream is one stream attached to a channel. Priorities are a dense
// 0..N-1 sequence; 0 is the primary feed.
type ChannelStream struct {
	ChannelID int64
	StreamID  string
	Priority  int
	Source    StreamSource
	AddedAt   time.Time
}

// AuditEntry is one append-only audit record. The audit log is never
// rewritten or pruned by the application.
type AuditEntry struct {
	ID        int64
	ChannelID int64
	Category  string
	Detail    string
	Before    string
	After     string
	CreatedAt time.Time
}

// StoredDiagnostic is a persisted per-stream skip record for one run.
type StoredDiagnostic struct {
	ID         int64
	RunID      string
	StreamID   string
	StreamText string
	Reason     string
	Team1      string
	Team2      string
	Tier       string
	Leagues    string
	CreatedAt  time.Time
}
