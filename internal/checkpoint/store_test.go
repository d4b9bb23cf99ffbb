package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfig() Config {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Config{
		Platform:    "slack",
		IncludeDMs:  true,
		Since:       &since,
		Concurrency: 2,
		PageSize:    50,
	}
}

func TestCreateLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)

	id, err := store.Create(testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("Create returned empty session id")
	}

	store.SetPhase(PhaseImporting)
	store.MarkContainerProcessed("guild-1")
	store.MarkConversationProcessed("thread_slack_channel_C1")
	store.MarkThreadProcessed("thread_slack_thread_C1.100")
	store.SetCursor("thread_slack_channel_C2", "1700000000.000100", 42)
	store.AddMessages(42)
	store.AddErrors(1)
	store.WidenDateRange(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store.WidenDateRange(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC))

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	other := NewStore(dir, nil)
	if err := other.Load(id); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	st := other.Snapshot()
	if st.Phase != PhaseImporting {
		t.Errorf("phase = %q, want importing", st.Phase)
	}
	if !st.ProcessedContainers["guild-1"] {
		t.Error("container completion lost across reload")
	}
	if !st.ProcessedConversations["thread_slack_channel_C1"] {
		t.Error("conversation completion lost across reload")
	}
	if !st.ProcessedThreads["thread_slack_thread_C1.100"] {
		t.Error("thread completion lost across reload")
	}
	cursor, ok := other.Cursor("thread_slack_channel_C2")
	if !ok || cursor.Before != "1700000000.000100" || cursor.Count != 42 {
		t.Errorf("cursor lost across reload: %+v ok=%v", cursor, ok)
	}
	if st.Stats.Messages != 42 || st.Stats.Errors != 1 {
		t.Errorf("stats lost across reload: %+v", st.Stats)
	}
	if st.Stats.Oldest == nil || !st.Stats.Oldest.Equal(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("oldest date not restored: %v", st.Stats.Oldest)
	}
	if st.Config.Since == nil || !st.Config.Since.Equal(*testConfig().Since) {
		t.Errorf("config since date not restored: %v", st.Config.Since)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)
	id, err := store.Create(testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A crash between the temp-file write and the rename leaves a stray
	// .tmp file but never a half-written canonical file.
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path+".tmp", []byte("{ truncated"), 0600); err != nil {
		t.Fatal(err)
	}

	other := NewStore(dir, nil)
	if err := other.Load(id); err != nil {
		t.Fatalf("Load after simulated crash failed: %v", err)
	}

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after successful save")
	}
}

func TestMutatorsAreIdempotent(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	if _, err := store.Create(testConfig()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	store.SetCursor("conv-1", "cursor", 10)
	store.MarkConversationProcessed("conv-1")
	store.MarkConversationProcessed("conv-1")

	st := store.Snapshot()
	if len(st.ProcessedConversations) != 1 {
		t.Errorf("processed set has %d entries, want 1", len(st.ProcessedConversations))
	}
	if _, ok := store.Cursor("conv-1"); ok {
		t.Error("cursor not dropped when conversation marked complete")
	}
	if !store.IsUnitProcessed("conv-1") {
		t.Error("IsUnitProcessed = false for completed conversation")
	}
}

func TestPhaseTransitionsAreMonotonic(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	if _, err := store.Create(testConfig()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	store.SetPhase(PhaseFinalizing)
	store.SetPhase(PhaseImporting) // backward, ignored
	if got := store.Phase(); got != PhaseFinalizing {
		t.Errorf("phase = %q after backward transition, want finalizing", got)
	}
	if err := store.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got := store.Phase(); got != PhaseComplete {
		t.Errorf("phase = %q, want complete", got)
	}
}

func TestDebouncedFlushPersistsInBackground(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, nil)
	store.flushDelay = 10 * time.Millisecond
	id, err := store.Create(testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	store.AddMessages(7)
	store.MarkDirty()

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err := NewStore(dir, nil).Get(id)
		if err == nil && st.Stats.Messages == 7 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced flush never persisted state")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListAndFindResumable(t *testing.T) {
	dir := t.TempDir()

	first := NewStore(dir, nil)
	firstID, err := first.Create(testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := first.Complete(); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	second := NewStore(dir, nil)
	secondID, err := second.Create(testConfig())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second.SetPhase(PhaseImporting)
	if err := second.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	summaries, err := NewStore(dir, nil).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List returned %d checkpoints, want 2", len(summaries))
	}
	phases := map[string]Phase{}
	for _, sum := range summaries {
		phases[sum.SessionID] = sum.Phase
	}
	if phases[firstID] != PhaseComplete {
		t.Errorf("completed session listed with phase %q", phases[firstID])
	}

	resumable, err := NewStore(dir, nil).FindResumable()
	if err != nil {
		t.Fatalf("FindResumable failed: %v", err)
	}
	if resumable != secondID {
		t.Errorf("FindResumable = %q, want %q", resumable, secondID)
	}

	if err := NewStore(dir, nil).Delete(secondID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := NewStore(dir, nil).FindResumable(); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindResumable with only completed sessions = %v, want ErrNotFound", err)
	}
}

func TestLoadMissingSession(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	err := store.Load("no-such-session")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) = %v, want ErrNotFound", err)
	}
}
