package presence

import (
	"time"
)

// Channel is the single well-known presence channel shared by all clients.
const Channel = "online-users"

// Windows governing liveness derivation
const (
	// FreshnessWindow is the maximum age of a last_seen still considered
	// online. Membership alone is too coarse: a backgrounded client stays a
	// member without refreshing last_seen.
	FreshnessWindow = 60 * time.Second

	// RecentWindow is the cutoff for the "Active recently" label.
	RecentWindow = 5 * time.Minute

	// HeartbeatInterval is how often an active client re-tracks itself.
	HeartbeatInterval = 30 * time.Second
)

// Record is one user's ephemeral presence entry. It lives only in channel
// state and is never persisted.
type Record struct {
	UserID   string    `json:"user_id"`
	Typing   bool      `json:"typing,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// EventType discriminates presence channel events.
type EventType string

const (
	EventTrack  EventType = "track"
	EventLeave  EventType = "leave"
	EventTyping EventType = "typing"
)

// Event is the wire format published on the presence channel.
type Event struct {
	Type   EventType `json:"type"`
	Record Record    `json:"record"`
}

// State is a snapshot of the presence registry. Each user has at most one
// entry, keyed by user id, last write wins.
type State struct {
	Members map[string]Record
	Typing  map[string]bool
}

func NewState() State {
	return State{
		Members: map[string]Record{},
		Typing:  map[string]bool{},
	}
}

// Apply is a pure reducer: (previous state, event) -> next state. Keeping the
// transition explicit makes the last-snapshot-wins semantics testable instead
// of ad hoc registry mutation.
func Apply(prev State, e Event) State {
	next := State{
		Members: make(map[string]Record, len(prev.Members)+1),
		Typing:  make(map[string]bool, len(prev.Typing)+1),
	}
	for k, v := range prev.Members {
		next.Members[k] = v
	}
	for k, v := range prev.Typing {
		next.Typing[k] = v
	}

	switch e.Type {
	case EventTrack:
		next.Members[e.Record.UserID] = e.Record
		// A track carrying a typing flag doubles as a typing signal.
		next.Typing[e.Record.UserID] = e.Record.Typing
	case EventLeave:
		delete(next.Members, e.Record.UserID)
		delete(next.Typing, e.Record.UserID)
	case EventTyping:
		// Edge-triggered: true until a later typing=false arrives.
		next.Typing[e.Record.UserID] = e.Record.Typing
	}

	return next
}

// OnlineAt derives the online set from a snapshot: membership plus freshness.
func (s State) OnlineAt(now time.Time) []string {
	online := make([]string, 0, len(s.Members))
	for id, rec := range s.Members {
		if now.Sub(rec.LastSeen) <= FreshnessWindow {
			online = append(online, id)
		}
	}
	return online
}
