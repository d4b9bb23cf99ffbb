// Package checkpoint persists import-session progress so that an interrupted
// multi-hour import can resume exactly where it left off.
//
// Each session is one human-readable JSON file. Writes go to a temp path and
// are renamed over the real path, so a crash mid-write never leaves the
// checkpoint unparseable. Saves are debounced: mutators update in-memory
// state, MarkDirty schedules a flush, and at most one debounce interval of
// progress can be lost on a hard crash.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

const defaultFlushDelay = 5 * time.Second

// Store owns one session's in-memory state and its file on disk.
type Store struct {
	dir        string
	log        *zap.Logger
	flushDelay time.Duration

	mu         sync.Mutex // guards state, dirty, flushTimer, saveErr
	state      *State
	dirty      bool
	flushTimer *time.Timer
	saveErr    error

	saveMu sync.Mutex // serializes overlapping disk writes
}

// NewStore returns a store rooted at dir. No session is attached until
// Create or Load is called.
func NewStore(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, log: log, flushDelay: defaultFlushDelay}
}

// DefaultDir returns the default checkpoint directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./checkpoints"
	}
	return filepath.Join(home, ".chatvault", "checkpoints")
}

// Create allocates a fresh session id, writes the initial empty state, and
// attaches it to the store.
func (s *Store) Create(cfg Config) (string, error) {
	id := uuid.NewString()
	st := newState(id, cfg, time.Now().UTC())

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	if err := s.Save(); err != nil {
		return "", fmt.Errorf("write initial checkpoint: %w", err)
	}
	return id, nil
}

// Load reconstructs session state from disk and attaches it to the store.
func (s *Store) Load(sessionID string) error {
	st, err := s.read(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = st
	s.dirty = false
	s.mu.Unlock()
	return nil
}

func (s *Store) read(sessionID string) (*State, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", sessionID, err)
	}
	st.normalize()
	return st, nil
}

// Save serializes the current state to disk atomically. Overlapping saves
// are serialized so two flushes never interleave writes to the same file.
func (s *Store) Save() error {
	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return errors.New("no session attached")
	}
	s.state.UpdatedAt = time.Now().UTC()
	snapshot := s.state.clone()
	s.dirty = false
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.write(snapshot)
}

func (s *Store) write(st *State) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path, err := s.path(st.SessionID)
	if err != nil {
		return err
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// MarkDirty records that state needs persistence and schedules a debounced
// flush if one is not already scheduled.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.flushDelay, func() {
		if err := s.Save(); err != nil {
			s.log.Error("checkpoint flush failed", zap.Error(err))
			s.mu.Lock()
			s.saveErr = err
			s.mu.Unlock()
		}
	})
}

// Flush cancels any pending debounced save, writes dirty state now, and
// surfaces a failure from an earlier background flush. Silent progress loss
// is worse than stopping, so callers treat a Flush error as fatal.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	saveErr := s.saveErr
	s.saveErr = nil
	needsSave := s.dirty
	s.mu.Unlock()

	if saveErr != nil {
		return saveErr
	}
	if !needsSave {
		return nil
	}
	return s.Save()
}

// Complete transitions the session to its terminal phase and persists it.
func (s *Store) Complete() error {
	s.SetPhase(PhaseComplete)
	return s.Save()
}

// Delete removes a checkpoint file. Checkpoints are never deleted
// automatically; this is an explicit maintenance operation.
func (s *Store) Delete(sessionID string) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *Store) path(sessionID string) (string, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) || strings.HasPrefix(sessionID, ".") {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.dir, sessionID+".json"), nil
}

// Summary is a listing row for operator visibility and resume discovery.
type Summary struct {
	SessionID string    `json:"session_id"`
	Platform  string    `json:"platform"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  int       `json:"messages"`
	Errors    int       `json:"errors"`
}

// List enumerates all checkpoints in the store directory, most recently
// updated first. Unparseable files are skipped with a warning rather than
// failing the listing.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}

	var out []Summary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		st, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.Warn("skipping unreadable checkpoint", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, Summary{
			SessionID: st.SessionID,
			Platform:  st.Config.Platform,
			Phase:     st.Phase,
			CreatedAt: st.CreatedAt,
			UpdatedAt: st.UpdatedAt,
			Messages:  st.Stats.Messages,
			Errors:    st.Stats.Errors,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// FindResumable returns the most recently updated checkpoint that has not
// reached the complete phase, or ErrNotFound if every session finished.
func (s *Store) FindResumable() (string, error) {
	summaries, err := s.List()
	if err != nil {
		return "", err
	}
	for _, sum := range summaries {
		if sum.Phase != PhaseComplete {
			return sum.SessionID, nil
		}
	}
	return "", ErrNotFound
}

// Get reads one checkpoint's full state without attaching it to the store.
func (s *Store) Get(sessionID string) (*State, error) {
	return s.read(sessionID)
}

// Snapshot returns a deep copy of the attached session's state.
func (s *Store) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	return s.state.clone()
}

// SetPhase advances the session phase. Backward transitions are ignored:
// the phase machine is monotonic.
func (s *Store) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil || p.rank() <= s.state.Phase.rank() {
		return
	}
	s.state.Phase = p
	s.dirty = true
}

// Phase returns the current session phase.
func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ""
	}
	return s.state.Phase
}

// MarkContainerProcessed records a container as fully imported. Idempotent.
func (s *Store) MarkContainerProcessed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return
	}
	s.state.ProcessedContainers[id] = true
}

// MarkConversationProcessed records a conversation as fully imported and
// drops its in-flight cursor. Idempotent.
func (s *Store) MarkConversationProcessed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return
	}
	s.state.ProcessedConversations[id] = true
	delete(s.state.Cursors, id)
}

// MarkThreadProcessed records a sub-thread as fully imported and drops its
// in-flight cursor. Idempotent.
func (s *Store) MarkThreadProcessed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return
	}
	s.state.ProcessedThreads[id] = true
	delete(s.state.Cursors, id)
}

// IsContainerProcessed reports whether a container is already complete.
func (s *Store) IsContainerProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil && s.state.ProcessedContainers[id]
}

// IsUnitProcessed reports whether a conversation or thread is already
// complete.
func (s *Store) IsUnitProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil && (s.state.ProcessedConversations[id] || s.state.ProcessedThreads[id])
}

// SetCursor records a conversation's resume point after a page completes.
func (s *Store) SetCursor(id, before string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return
	}
	s.state.Cursors[id] = Cursor{Before: before, Count: count}
}

// Cursor returns a conversation's resume point, if one is stored.
func (s *Store) Cursor(id string) (Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return Cursor{}, false
	}
	c, ok := s.state.Cursors[id]
	return c, ok
}

// AddMessages increments the imported-message counter.
func (s *Store) AddMessages(n int) { s.addStat(func(st *Stats) { st.Messages += n }) }

// AddSkipped increments the skipped-record counter.
func (s *Store) AddSkipped(n int) { s.addStat(func(st *Stats) { st.Skipped += n }) }

// AddErrors increments the error counter.
func (s *Store) AddErrors(n int) { s.addStat(func(st *Stats) { st.Errors += n }) }

// AddAccounts increments the discovered-account counter.
func (s *Store) AddAccounts(n int) { s.addStat(func(st *Stats) { st.Accounts += n }) }

// AddThreads increments the discovered-thread counter.
func (s *Store) AddThreads(n int) { s.addStat(func(st *Stats) { st.Threads += n }) }

func (s *Store) addStat(apply func(*Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return
	}
	apply(&s.state.Stats)
}

// WidenDateRange expands the observed message date range to include t.
func (s *Store) WidenDateRange(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil || t.IsZero() {
		return
	}
	st := &s.state.Stats
	if st.Oldest == nil || t.Before(*st.Oldest) {
		tt := t
		st.Oldest = &tt
	}
	if st.Newest == nil || t.After(*st.Newest) {
		tt := t
		st.Newest = &tt
	}
}

// Config returns the attached session's configuration.
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return Config{}
	}
	return s.state.Config
}

// SessionID returns the attached session's id.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ""
	}
	return s.state.SessionID
}

// Stats returns a copy of the attached session's running statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return Stats{}
	}
	st := s.state.Stats
	if st.Oldest != nil {
		t := *st.Oldest
		st.Oldest = &t
	}
	if st.Newest != nil {
		t := *st.Newest
		st.Newest = &t
	}
	return st
}

// Close stops any pending flush and persists dirty state.
func (s *Store) Close() error {
	s.mu.Lock()
	attached := s.state != nil
	s.mu.Unlock()
	if !attached {
		return nil
	}
	return s.Flush()
}
