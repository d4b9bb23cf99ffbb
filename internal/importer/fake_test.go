package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatvault/chatvault/internal/adapter"
	"github.com/chatvault/chatvault/internal/canonical"
	"github.com/chatvault/chatvault/internal/record"
)

// fakeClient implements adapter.Client against in-memory fixtures. Each
// conversation's records are held newest-first, the order FetchPage returns.
type fakeClient struct {
	platform   string
	identity   adapter.Identity
	containers []adapter.Container
	convs      map[string][]adapter.Conversation // container native id -> conversations
	dms        []adapter.Conversation
	records    map[string][]adapter.Raw // conversation native id -> newest-first
	failFetch  map[string]bool          // conversations whose FetchPage errors
	failConv   map[string]bool          // native record ids whose Convert errors

	mu          sync.Mutex
	active      int
	maxActive   int
	fetchCalls  map[string]int
	fetchBefore map[string][]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		platform:    "fake",
		identity:    adapter.Identity{NativeID: "self", DisplayName: "Self"},
		convs:       map[string][]adapter.Conversation{},
		records:     map[string][]adapter.Raw{},
		failFetch:   map[string]bool{},
		failConv:    map[string]bool{},
		fetchCalls:  map[string]int{},
		fetchBefore: map[string][]string{},
	}
}

// addConversation registers a conversation with n records, timestamps spaced
// one minute apart ending at newest.
func (f *fakeClient) addConversation(conv adapter.Conversation, n int, newest time.Time) {
	if conv.ContainerID != "" {
		f.convs[conv.ContainerID] = append(f.convs[conv.ContainerID], conv)
	} else {
		f.dms = append(f.dms, conv)
	}
	raws := make([]adapter.Raw, n)
	for i := 0; i < n; i++ {
		raws[i] = adapter.Raw{
			NativeID:  fmt.Sprintf("%s-%04d", conv.NativeID, n-i),
			Timestamp: newest.Add(-time.Duration(i) * time.Minute),
			Payload:   fmt.Sprintf("text %d of %s", n-i, conv.NativeID),
		}
	}
	f.records[conv.NativeID] = raws
}

func (f *fakeClient) Platform() string { return f.platform }

func (f *fakeClient) Identity(ctx context.Context) (adapter.Identity, error) {
	return f.identity, nil
}

func (f *fakeClient) ListContainers(ctx context.Context) ([]adapter.Container, error) {
	return f.containers, nil
}

func (f *fakeClient) ListConversations(ctx context.Context, container adapter.Container, includeArchived bool) ([]adapter.Conversation, error) {
	return f.convs[container.NativeID], nil
}

func (f *fakeClient) ListDirectConversations(ctx context.Context) ([]adapter.Conversation, error) {
	return f.dms, nil
}

func (f *fakeClient) FetchPage(ctx context.Context, conv adapter.Conversation, before string, limit int) ([]adapter.Raw, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.fetchCalls[conv.NativeID]++
	f.fetchBefore[conv.NativeID] = append(f.fetchBefore[conv.NativeID], before)
	fail := f.failFetch[conv.NativeID]
	f.mu.Unlock()

	// Let concurrent fetches overlap so the concurrency bound is observable.
	time.Sleep(2 * time.Millisecond)

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if fail {
		return nil, fmt.Errorf("simulated fetch failure for %s", conv.NativeID)
	}

	all := f.records[conv.NativeID]
	start := 0
	if before != "" {
		start = len(all)
		for i, raw := range all {
			if raw.NativeID == before {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start >= len(all) {
		return nil, nil
	}
	page := make([]adapter.Raw, end-start)
	copy(page, all[start:end])
	return page, nil
}

func (f *fakeClient) Convert(raw adapter.Raw, conv adapter.Conversation) (*record.Message, error) {
	if f.failConv[raw.NativeID] {
		return nil, fmt.Errorf("simulated conversion failure for %s", raw.NativeID)
	}
	return &record.Message{
		ID:        canonical.MessageID(f.platform, raw.NativeID),
		ThreadID:  canonical.ThreadID(f.platform, conv.Type, conv.NativeID),
		SenderID:  canonical.AccountID(f.platform, "sender"),
		Content:   raw.Payload.(string),
		Timestamp: raw.Timestamp,
		Source: record.Source{
			Platform:       f.platform,
			NativeID:       raw.NativeID,
			SenderNativeID: "sender",
		},
	}, nil
}

func (f *fakeClient) Account(ctx context.Context, nativeUserID string) (*record.Account, error) {
	return &record.Account{
		ID:          canonical.AccountID(f.platform, nativeUserID),
		Platform:    f.platform,
		NativeID:    nativeUserID,
		DisplayName: nativeUserID,
	}, nil
}

// maxConcurrent reports the highest number of FetchPage calls observed in
// flight at once.
func (f *fakeClient) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeClient) calls(convID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[convID]
}

func (f *fakeClient) befores(convID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetchBefore[convID]...)
}

// fakeStore implements RecordStore in memory.
type fakeStore struct {
	mu          sync.Mutex
	accounts    map[string]*record.Account
	threads     map[string]*record.Thread
	messages    map[string]*record.Message
	rebuilds    int
	messageErr  error // returned by UpsertMessage when set
	upsertOrder []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]*record.Account{},
		threads:  map[string]*record.Thread{},
		messages: map[string]*record.Message{},
	}
}

func (s *fakeStore) UpsertAccount(ctx context.Context, acct *record.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = acct
	return nil
}

func (s *fakeStore) UpsertThread(ctx context.Context, thread *record.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[thread.ID] = thread
	return nil
}

func (s *fakeStore) UpsertMessage(ctx context.Context, msg *record.Message) (*record.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messageErr != nil {
		return nil, s.messageErr
	}
	s.messages[msg.ID] = msg
	s.upsertOrder = append(s.upsertOrder, msg.ID)
	return msg, nil
}

func (s *fakeStore) RebuildDerivedViews(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds++
	return nil
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
