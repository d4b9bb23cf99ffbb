package importer

import (
	"context"
	"testing"
	"time"

	"github.com/chatvault/chatvault/internal/adapter"
	"github.com/chatvault/chatvault/internal/checkpoint"
	"github.com/chatvault/chatvault/internal/record"
)

func newCheckpoint(t *testing.T, cfg checkpoint.Config) *checkpoint.Store {
	t.Helper()
	cp := checkpoint.NewStore(t.TempDir(), nil)
	if _, err := cp.Create(cfg); err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}
	return cp
}

func TestDiscoverSkipsCompletedUnits(t *testing.T) {
	client := newFakeClient()
	client.containers = []adapter.Container{{NativeID: "G1", Name: "guild"}}
	now := time.Now()
	client.addConversation(adapter.Conversation{NativeID: "C1", Name: "general", Type: record.ThreadTypeChannel, ContainerID: "G1"}, 5, now)
	client.addConversation(adapter.Conversation{NativeID: "C2", Name: "random", Type: record.ThreadTypeChannel, ContainerID: "G1"}, 5, now)

	cp := newCheckpoint(t, checkpoint.Config{Platform: "fake"})
	cp.MarkConversationProcessed("thread_fake_channel_C1")
	cp.SetCursor("thread_fake_channel_C2", "C2-0003", 2)

	units, err := Discover(context.Background(), client, cp, nil)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	if units[0].Conversation.NativeID != "C2" {
		t.Errorf("unit = %s, want C2", units[0].Conversation.NativeID)
	}
	if units[0].Cursor == nil || units[0].Cursor.Before != "C2-0003" || units[0].Cursor.Count != 2 {
		t.Errorf("stored cursor not attached: %+v", units[0].Cursor)
	}
}

func TestDiscoverHonorsFilters(t *testing.T) {
	client := newFakeClient()
	client.containers = []adapter.Container{
		{NativeID: "G1", Name: "alpha"},
		{NativeID: "G2", Name: "beta"},
	}
	now := time.Now()
	client.addConversation(adapter.Conversation{NativeID: "C1", Type: record.ThreadTypeChannel, ContainerID: "G1"}, 1, now)
	client.addConversation(adapter.Conversation{NativeID: "T1", Type: record.ThreadTypeArchivedThread, ContainerID: "G1", Archived: true}, 1, now)
	client.addConversation(adapter.Conversation{NativeID: "C2", Type: record.ThreadTypeChannel, ContainerID: "G2"}, 1, now)
	client.addConversation(adapter.Conversation{NativeID: "D1", Type: record.ThreadTypeDM}, 1, now)

	cp := newCheckpoint(t, checkpoint.Config{
		Platform:   "fake",
		Containers: []string{"G1"},
	})
	units, err := Discover(context.Background(), client, cp, nil)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	// G2 filtered out, archived excluded by default, DMs excluded by default.
	if len(units) != 1 || units[0].Conversation.NativeID != "C1" {
		t.Fatalf("units = %+v, want just C1", unitIDs(units))
	}

	cp = newCheckpoint(t, checkpoint.Config{
		Platform:        "fake",
		IncludeArchived: true,
		IncludeDMs:      true,
	})
	units, err = Discover(context.Background(), client, cp, nil)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(units) != 4 {
		t.Errorf("units = %v, want all 4", unitIDs(units))
	}

	cp = newCheckpoint(t, checkpoint.Config{
		Platform:   "fake",
		Types:      []string{record.ThreadTypeDM},
		IncludeDMs: true,
	})
	units, err = Discover(context.Background(), client, cp, nil)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(units) != 1 || units[0].Conversation.NativeID != "D1" {
		t.Errorf("units = %v, want just D1", unitIDs(units))
	}
}

func TestDiscoverEmptyContainerIsNotAnError(t *testing.T) {
	client := newFakeClient()
	client.containers = []adapter.Container{{NativeID: "G1", Name: "empty"}}

	cp := newCheckpoint(t, checkpoint.Config{Platform: "fake"})
	units, err := Discover(context.Background(), client, cp, nil)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("got %d units from empty container, want 0", len(units))
	}
}

func TestDiscoverSkipsCompletedContainers(t *testing.T) {
	client := newFakeClient()
	client.containers = []adapter.Container{{NativeID: "G1"}, {NativeID: "G2"}}
	now := time.Now()
	client.addConversation(adapter.Conversation{NativeID: "C1", Type: record.ThreadTypeChannel, ContainerID: "G1"}, 1, now)
	client.addConversation(adapter.Conversation{NativeID: "C2", Type: record.ThreadTypeChannel, ContainerID: "G2"}, 1, now)

	cp := newCheckpoint(t, checkpoint.Config{Platform: "fake"})
	cp.MarkContainerProcessed("G1")

	units, err := Discover(context.Background(), client, cp, nil)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(units) != 1 || units[0].Conversation.NativeID != "C2" {
		t.Errorf("units = %v, want just C2", unitIDs(units))
	}
}

func unitIDs(units []WorkUnit) []string {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.Conversation.NativeID
	}
	return ids
}
