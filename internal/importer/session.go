package importer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatvault/chatvault/internal/adapter"
	"github.com/chatvault/chatvault/internal/canonical"
	"github.com/chatvault/chatvault/internal/checkpoint"
	"github.com/chatvault/chatvault/internal/record"
)

// RecordStore is the persistence surface the session writes through. All
// three upserts are idempotent by canonical id: re-importing the same native
// records is a no-op in terms of distinct stored rows.
type RecordStore interface {
	UpsertAccount(ctx context.Context, acct *record.Account) error
	UpsertThread(ctx context.Context, thread *record.Thread) error
	UpsertMessage(ctx context.Context, msg *record.Message) (*record.Message, error)
	RebuildDerivedViews(ctx context.Context) error
}

// Progress is pushed to the optional observer as a session advances.
type Progress struct {
	Phase          checkpoint.Phase
	TotalUnits     int
	CompletedUnits int
	InFlight       []string // names of units currently fetching
	Messages       int
	Discovered     int // thread sub-conversations surfaced by discovery
	Errors         int
	Elapsed        time.Duration
}

// Result aggregates a finished session run.
type Result struct {
	SessionID string        `json:"session_id"`
	Resumed   bool          `json:"resumed"`
	Messages  int           `json:"messages"`
	Accounts  int           `json:"accounts"`
	Threads   int           `json:"threads"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Oldest    *time.Time    `json:"oldest,omitempty"`
	Newest    *time.Time    `json:"newest,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Options configures a session.
type Options struct {
	Client      adapter.Client
	Store       RecordStore
	Checkpoints *checkpoint.Store
	Config      checkpoint.Config

	// Resume names an existing session to continue. ResumeLatest picks the
	// most recent incomplete session instead. With neither set, a fresh
	// session is created from Config.
	Resume       string
	ResumeLatest bool

	Observer func(Progress)
	Logger   *zap.Logger
}

// Session is the top-level control loop: create-or-resume checkpoint,
// discovery, batched fetch, finalize, mark complete.
type Session struct {
	client    adapter.Client
	store     RecordStore
	cp        *checkpoint.Store
	cfg       checkpoint.Config
	resume    string
	resumeAny bool
	observer  func(Progress)
	log       *zap.Logger

	mu         sync.Mutex // guards progress bookkeeping below
	inFlight   map[string]string
	completed  int
	total      int
	discovered int // thread sub-conversation units among total

	observerMu sync.Mutex // serializes observer invocations

	// Per-session caches to avoid redundant upserts. These are a local
	// optimization only: the store's upserts are already idempotent, and
	// resume correctness never depends on them.
	seenAccounts map[string]bool
	seenThreads  map[string]bool
}

// New validates options and returns a runnable session.
func New(opts Options) (*Session, error) {
	if opts.Client == nil {
		return nil, errors.New("adapter client is required")
	}
	if opts.Store == nil {
		return nil, errors.New("record store is required")
	}
	if opts.Checkpoints == nil {
		return nil, errors.New("checkpoint store is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		client:       opts.Client,
		store:        opts.Store,
		cp:           opts.Checkpoints,
		cfg:          opts.Config.Normalized(),
		resume:       opts.Resume,
		resumeAny:    opts.ResumeLatest,
		observer:     opts.Observer,
		log:          log,
		inFlight:     map[string]string{},
		seenAccounts: map[string]bool{},
		seenThreads:  map[string]bool{},
	}, nil
}

// Run executes the import. It returns the aggregate statistics even when
// some units failed: partial failure shows up in the error count, not as an
// aborted session. Checkpoint I/O failures and record-store failures are
// fatal.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	resumed, err := s.attachCheckpoint()
	if err != nil {
		return nil, err
	}
	sessionID := s.cp.SessionID()
	s.log.Info("session started",
		zap.String("session", sessionID),
		zap.Bool("resumed", resumed),
		zap.String("platform", s.client.Platform()))

	// The importing user's own identity is upserted once per session.
	if err := s.upsertSelf(ctx); err != nil {
		return nil, err
	}

	s.cp.SetPhase(checkpoint.PhaseDiscovery)
	if err := s.cp.Flush(); err != nil {
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}
	s.report(checkpoint.PhaseDiscovery, start)

	units, err := Discover(ctx, s.client, s.cp, s.log)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	s.mu.Lock()
	s.total = len(units)
	s.discovered = countSubConversations(units)
	s.mu.Unlock()

	s.cp.SetPhase(checkpoint.PhaseImporting)
	if err := s.cp.Flush(); err != nil {
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}
	s.report(checkpoint.PhaseImporting, start)

	if err := s.fetchAll(ctx, units, start); err != nil {
		return nil, err
	}
	s.markCompletedContainers(units)

	s.cp.SetPhase(checkpoint.PhaseFinalizing)
	if err := s.cp.Flush(); err != nil {
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}
	s.report(checkpoint.PhaseFinalizing, start)

	if err := s.store.RebuildDerivedViews(ctx); err != nil {
		return nil, fmt.Errorf("rebuild derived views: %w", err)
	}

	if err := s.cp.Complete(); err != nil {
		return nil, fmt.Errorf("complete checkpoint: %w", err)
	}
	s.report(checkpoint.PhaseComplete, start)

	stats := s.cp.Stats()
	result := &Result{
		SessionID: sessionID,
		Resumed:   resumed,
		Messages:  stats.Messages,
		Accounts:  stats.Accounts,
		Threads:   stats.Threads,
		Skipped:   stats.Skipped,
		Errors:    stats.Errors,
		Oldest:    stats.Oldest,
		Newest:    stats.Newest,
		Duration:  time.Since(start),
	}
	s.log.Info("session finished",
		zap.String("session", sessionID),
		zap.Int("messages", result.Messages),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// attachCheckpoint creates a fresh session or loads the one being resumed.
// A missing explicit resume id is fatal before any work begins.
func (s *Session) attachCheckpoint() (bool, error) {
	switch {
	case s.resume != "":
		if err := s.cp.Load(s.resume); err != nil {
			return false, fmt.Errorf("resume session %s: %w", s.resume, err)
		}
		return true, nil
	case s.resumeAny:
		id, err := s.cp.FindResumable()
		if err != nil {
			return false, fmt.Errorf("find resumable session: %w", err)
		}
		if err := s.cp.Load(id); err != nil {
			return false, fmt.Errorf("resume session %s: %w", id, err)
		}
		return true, nil
	default:
		if _, err := s.cp.Create(s.cfg); err != nil {
			return false, fmt.Errorf("create session: %w", err)
		}
		return false, nil
	}
}

func (s *Session) upsertSelf(ctx context.Context) error {
	identity, err := s.client.Identity(ctx)
	if err != nil {
		return fmt.Errorf("resolve self identity: %w", err)
	}
	platform := s.client.Platform()
	self := &record.Account{
		ID:          canonical.AccountID(platform, identity.NativeID),
		Platform:    platform,
		NativeID:    identity.NativeID,
		DisplayName: identity.DisplayName,
		IsSelf:      true,
	}
	if err := s.store.UpsertAccount(ctx, self); err != nil {
		return fmt.Errorf("upsert self account: %w", err)
	}
	s.seenAccounts[self.ID] = true
	s.cp.AddAccounts(1)
	return nil
}

// fetchAll consumes the orchestrator's emission stream, upserting per
// record. A record-store failure cancels the stream and is fatal.
func (s *Session) fetchAll(ctx context.Context, units []WorkUnit, start time.Time) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch := &Orchestrator{
		Client:     s.client,
		Checkpoint: s.cp,
		Log:        s.log,
		OnUnitStart: func(u WorkUnit) {
			s.mu.Lock()
			s.inFlight[u.Key] = u.Conversation.Name
			s.mu.Unlock()
			s.report(checkpoint.PhaseImporting, start)
		},
		OnUnitDone: func(u WorkUnit, err error) {
			s.mu.Lock()
			delete(s.inFlight, u.Key)
			s.completed++
			s.mu.Unlock()
			s.report(checkpoint.PhaseImporting, start)
		},
	}

	var storeErr error
	for emitted := range orch.Run(ctx, units) {
		if storeErr != nil {
			continue // drain so fetch goroutines can settle
		}
		if err := s.persist(ctx, emitted); err != nil {
			storeErr = err
			cancel() // stop emission; per-page cursors make this safe
		}
	}
	if storeErr != nil {
		return storeErr
	}
	return ctx.Err()
}

func (s *Session) persist(ctx context.Context, emitted Emitted) error {
	msg := emitted.Message
	conv := emitted.Unit.Conversation

	if !s.seenThreads[msg.ThreadID] {
		thread := s.buildThread(emitted.Unit)
		if err := s.store.UpsertThread(ctx, thread); err != nil {
			return fmt.Errorf("upsert thread %s: %w", thread.ID, err)
		}
		s.seenThreads[msg.ThreadID] = true
		s.cp.AddThreads(1)
	}

	if msg.SenderID != "" && !s.seenAccounts[msg.SenderID] {
		if err := s.upsertSender(ctx, msg); err != nil {
			return err
		}
	}

	if _, err := s.store.UpsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("upsert message %s in %s: %w", msg.ID, conv.NativeID, err)
	}
	return nil
}

func (s *Session) upsertSender(ctx context.Context, msg *record.Message) error {
	platform := s.client.Platform()
	var acct *record.Account
	var err error
	if msg.Source.SenderNativeID != "" {
		acct, err = s.client.Account(ctx, msg.Source.SenderNativeID)
	}
	if err != nil || acct == nil {
		// The platform would not resolve the sender; store the bare
		// identity so the message still references a real account row.
		acct = &record.Account{
			ID:       msg.SenderID,
			Platform: platform,
		}
		if err != nil {
			s.log.Debug("sender lookup failed", zap.String("sender", msg.SenderID), zap.Error(err))
		}
	}
	if err := s.store.UpsertAccount(ctx, acct); err != nil {
		return fmt.Errorf("upsert account %s: %w", acct.ID, err)
	}
	s.seenAccounts[msg.SenderID] = true
	s.cp.AddAccounts(1)
	return nil
}

func (s *Session) buildThread(unit WorkUnit) *record.Thread {
	conv := unit.Conversation
	platform := s.client.Platform()
	participants := make([]string, 0, len(conv.Participants))
	for _, native := range conv.Participants {
		participants = append(participants, canonical.AccountID(platform, native))
	}
	return &record.Thread{
		ID:           unit.Key,
		Platform:     platform,
		NativeID:     conv.NativeID,
		Type:         conv.Type,
		Title:        conv.Name,
		Participants: participants,
	}
}

// markCompletedContainers marks every container whose discovered units all
// finished. Containers with a failed or unfinished unit stay eligible for
// the next resume.
func (s *Session) markCompletedContainers(units []WorkUnit) {
	open := map[string]int{}
	seen := map[string]bool{}
	for _, u := range units {
		id := u.Conversation.ContainerID
		if id == "" {
			continue
		}
		seen[id] = true
		if !s.cp.IsUnitProcessed(u.Key) {
			open[id]++
		}
	}
	for id := range seen {
		if open[id] == 0 {
			s.cp.MarkContainerProcessed(id)
		}
	}
	s.cp.MarkDirty()
}

func (s *Session) report(phase checkpoint.Phase, start time.Time) {
	if s.observer == nil {
		return
	}
	stats := s.cp.Stats()
	s.mu.Lock()
	names := make([]string, 0, len(s.inFlight))
	for _, name := range s.inFlight {
		names = append(names, name)
	}
	completed, total, discovered := s.completed, s.total, s.discovered
	s.mu.Unlock()
	sort.Strings(names)

	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observer(Progress{
		Phase:          phase,
		TotalUnits:     total,
		CompletedUnits: completed,
		InFlight:       names,
		Messages:       stats.Messages,
		Discovered:     discovered,
		Errors:         stats.Errors,
		Elapsed:        time.Since(start),
	})
}

// countSubConversations counts the units discovery surfaced beyond the
// directly listed conversations, i.e. threads hanging off a channel.
func countSubConversations(units []WorkUnit) int {
	n := 0
	for _, u := range units {
		switch u.Conversation.Type {
		case record.ThreadTypeThread, record.ThreadTypeArchivedThread:
			n++
		}
	}
	return n
}
