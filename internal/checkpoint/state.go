package checkpoint

import "time"

// Phase tracks where an import session is in its lifecycle. Transitions are
// monotonic: discovery -> importing -> finalizing -> complete. The phase is
// operator-facing; resume correctness is driven by the completion sets and
// cursor map, not by this field.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseImporting  Phase = "importing"
	PhaseFinalizing Phase = "finalizing"
	PhaseComplete   Phase = "complete"
)

// rank orders phases for the monotonic-transition check.
func (p Phase) rank() int {
	switch p {
	case PhaseDiscovery:
		return 0
	case PhaseImporting:
		return 1
	case PhaseFinalizing:
		return 2
	case PhaseComplete:
		return 3
	}
	return -1
}

// Config is the import configuration captured when a session is created. It
// is persisted in the checkpoint so a resumed run repeats the same scope.
type Config struct {
	Platform        string     `json:"platform"`
	Containers      []string   `json:"containers,omitempty"` // native container ids/names; empty = all
	Types           []string   `json:"types,omitempty"`      // thread types; empty = all
	IncludeArchived bool       `json:"include_archived"`
	IncludeDMs      bool       `json:"include_dms"`
	Since           *time.Time `json:"since,omitempty"`
	Until           *time.Time `json:"until,omitempty"`
	Concurrency     int        `json:"concurrency"`     // units fetched at once
	PageSize        int        `json:"page_size"`       // native records per page
	MaxPerChannel   int        `json:"max_per_channel"` // 0 = unlimited
	BatchDelayMS    int        `json:"batch_delay_ms"`  // throttle between batches
}

// Defaults for unset Config fields.
const (
	DefaultConcurrency  = 3
	DefaultPageSize     = 100
	DefaultBatchDelayMS = 200
)

// Normalized returns a copy of the config with defaults applied.
func (c Config) Normalized() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.BatchDelayMS <= 0 {
		c.BatchDelayMS = DefaultBatchDelayMS
	}
	return c
}

// Cursor is the resume point of one in-flight conversation: the oldest
// native record id seen so far and how many records have been emitted.
type Cursor struct {
	Before string `json:"before"`
	Count  int    `json:"count"`
}

// Stats accumulates running statistics for a session.
type Stats struct {
	Messages int        `json:"messages"`
	Skipped  int        `json:"skipped"`
	Errors   int        `json:"errors"`
	Accounts int        `json:"accounts"`
	Threads  int        `json:"threads"`
	Oldest   *time.Time `json:"oldest,omitempty"`
	Newest   *time.Time `json:"newest,omitempty"`
}

// State is the persisted snapshot of an import session.
type State struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Config    Config    `json:"config"`
	Phase     Phase     `json:"phase"`

	// Completion sets. Adding an id already present is a no-op, which keeps
	// every mutation idempotent under resume.
	ProcessedContainers    map[string]bool `json:"processed_containers"`
	ProcessedConversations map[string]bool `json:"processed_conversations"`
	ProcessedThreads       map[string]bool `json:"processed_threads"`

	// Cursors maps in-flight conversation ids to their resume point. An
	// entry is dropped once its conversation is marked complete.
	Cursors map[string]Cursor `json:"cursors"`

	Stats Stats `json:"stats"`
}

func newState(sessionID string, cfg Config, now time.Time) *State {
	return &State{
		SessionID:              sessionID,
		CreatedAt:              now,
		UpdatedAt:              now,
		Config:                 cfg.Normalized(),
		Phase:                  PhaseDiscovery,
		ProcessedContainers:    map[string]bool{},
		ProcessedConversations: map[string]bool{},
		ProcessedThreads:       map[string]bool{},
		Cursors:                map[string]Cursor{},
	}
}

// clone deep-copies the state so snapshots can be serialized without holding
// the store lock.
func (s *State) clone() *State {
	c := *s
	c.ProcessedContainers = copySet(s.ProcessedContainers)
	c.ProcessedConversations = copySet(s.ProcessedConversations)
	c.ProcessedThreads = copySet(s.ProcessedThreads)
	c.Cursors = make(map[string]Cursor, len(s.Cursors))
	for k, v := range s.Cursors {
		c.Cursors[k] = v
	}
	if s.Stats.Oldest != nil {
		t := *s.Stats.Oldest
		c.Stats.Oldest = &t
	}
	if s.Stats.Newest != nil {
		t := *s.Stats.Newest
		c.Stats.Newest = &t
	}
	if s.Config.Since != nil {
		t := *s.Config.Since
		c.Config.Since = &t
	}
	if s.Config.Until != nil {
		t := *s.Config.Until
		c.Config.Until = &t
	}
	return &c
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k := range in {
		out[k] = true
	}
	return out
}

// normalize repairs nil maps after a load, so checkpoints written by older
// builds (or trimmed by hand) stay usable.
func (s *State) normalize() {
	if s.ProcessedContainers == nil {
		s.ProcessedContainers = map[string]bool{}
	}
	if s.ProcessedConversations == nil {
		s.ProcessedConversations = map[string]bool{}
	}
	if s.ProcessedThreads == nil {
		s.ProcessedThreads = map[string]bool{}
	}
	if s.Cursors == nil {
		s.Cursors = map[string]Cursor{}
	}
	if s.Phase.rank() < 0 {
		s.Phase = PhaseDiscovery
	}
	s.Config = s.Config.Normalized()
}
