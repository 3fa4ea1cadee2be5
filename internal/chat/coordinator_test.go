package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codexrag/ragcli/internal/api"
	"github.com/codexrag/ragcli/internal/knowledge"
	"github.com/codexrag/ragcli/internal/poll"
	"github.com/codexrag/ragcli/internal/session"
)

// fakeBackend implements both the session cache's API and the coordinator's
// Sender so one fake holds the authoritative server state. Like the real
// client it tolerates calls from concurrent goroutines.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]api.Session
	messages map[string][]api.Message
	nextID   int

	sendErr      error
	sendRecorded bool // whether a failed send still persisted the user message
	lastSend     api.SendMessageRequest
	lastSendID   string
	citations    []api.Snippet
	getCalls     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[string]api.Session),
		messages: make(map[string][]api.Message),
	}
}

func (f *fakeBackend) ListSessions(context.Context, int, int) (*api.SessionList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := &api.SessionList{Page: 1, PageSize: 50}
	for _, s := range f.sessions {
		list.Items = append(list.Items, s)
	}
	list.Total = len(list.Items)
	return list, nil
}

func (f *fakeBackend) GetSession(_ context.Context, id string) (*api.SessionDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	s, ok := f.sessions[id]
	if !ok {
		return nil, &api.RequestError{StatusCode: 404, Message: "session not found"}
	}
	return &api.SessionDetail{Session: s, Messages: f.messages[id]}, nil
}

func (f *fakeBackend) CreateSession(_ context.Context, title string) (*api.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "s-" + strings.Repeat("x", f.nextID)
	s := api.Session{ID: id, Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.sessions[id] = s
	return &s, nil
}

func (f *fakeBackend) DeleteSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeBackend) SendMessage(_ context.Context, sessionID string, req api.SendMessageRequest) (*api.SendMessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSend = req
	f.lastSendID = sessionID
	if f.sendErr != nil {
		if f.sendRecorded {
			// The failure happened after the server stored the user turn.
			f.messages[sessionID] = append(f.messages[sessionID], api.Message{
				ID: "srv-user", Role: api.RoleUser, Content: req.Message, Timestamp: time.Now(),
			})
		}
		return nil, f.sendErr
	}

	user := api.Message{ID: "srv-user", Role: api.RoleUser, Content: req.Message, Timestamp: time.Now()}
	reply := api.Message{
		ID:        "srv-reply",
		Role:      api.RoleAssistant,
		Content:   "answer to: " + req.Message,
		Timestamp: time.Now(),
		Citations: f.citations,
	}
	f.messages[sessionID] = append(f.messages[sessionID], user, reply)
	return &api.SendMessageResponse{SessionID: sessionID, Message: reply}, nil
}

func newTestCoordinator(fake *fakeBackend) (*Coordinator, *session.Cache, *knowledge.Orchestrator) {
	cache := session.NewCache(fake, nil)
	orchestrator := knowledge.NewOrchestrator(nil, nil)
	return NewCoordinator(fake, cache, orchestrator, nil), cache, orchestrator
}

func TestSend_RejectsBlankInput(t *testing.T) {
	fake := newFakeBackend()
	coordinator, _, _ := newTestCoordinator(fake)

	err := coordinator.Send(context.Background(), "   \t ")
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, fake.sessions)
}

func TestSend_CreatesSessionWhenNoneActive(t *testing.T) {
	fake := newFakeBackend()
	coordinator, cache, _ := newTestCoordinator(fake)

	require.NoError(t, coordinator.Send(context.Background(), "hello"))

	activeID := cache.ActiveID()
	require.NotEmpty(t, activeID)

	// Local history ends with the user turn then the assistant reply.
	msgs, ok := cache.MessagesFor(activeID)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, api.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, api.RoleAssistant, msgs[1].Role)
}

func TestSend_OptimisticMessagePrecedesReply(t *testing.T) {
	fake := newFakeBackend()
	coordinator, cache, _ := newTestCoordinator(fake)

	created, err := cache.Create(context.Background(), "chat")
	require.NoError(t, err)
	cache.SetActive(created.ID)

	require.NoError(t, coordinator.Send(context.Background(), "first question"))

	msgs, _ := cache.MessagesFor(created.ID)
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[0].ID, "local-"))
	assert.Equal(t, "srv-reply", msgs[1].ID)
}

func TestSend_CarriesActiveStoreID(t *testing.T) {
	fake := newFakeBackend()
	cache := session.NewCache(fake, nil)
	storeFake := &readyStoreAPI{}
	orchestrator := knowledge.NewOrchestrator(storeFake, nil, knowledge.WithPollConfig(instantPoll()))
	coordinator := NewCoordinator(fake, cache, orchestrator, nil)

	_, err := orchestrator.Upload(context.Background(), "a.md", strings.NewReader("a"))
	require.NoError(t, err)
	store, err := orchestrator.SubmitConfig(context.Background(), knowledge.DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, coordinator.Send(context.Background(), "grounded question"))
	assert.Equal(t, store.ID, fake.lastSend.VectorStoreID)
}

func TestSend_CitationsBecomeRecallResults(t *testing.T) {
	fake := newFakeBackend()
	fake.citations = []api.Snippet{{ID: "c1", Similarity: 0.8}, {ID: "c2", Similarity: 0.6}}
	coordinator, _, orchestrator := newTestCoordinator(fake)
	orchestrator.SetResults([]api.Snippet{{ID: "stale"}})
	orchestrator.SelectResult(1)

	require.NoError(t, coordinator.Send(context.Background(), "cite me"))

	results := orchestrator.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID)
	// The detail selection referred to the previous result set.
	selected, _ := orchestrator.SelectedResult()
	assert.Nil(t, selected)
}

func TestSend_FailureResyncsFromServer(t *testing.T) {
	fake := newFakeBackend()
	coordinator, cache, _ := newTestCoordinator(fake)

	created, err := cache.Create(context.Background(), "chat")
	require.NoError(t, err)
	cache.SetActive(created.ID)

	fake.sendErr = errors.New("gateway timeout")
	err = coordinator.Send(context.Background(), "lost question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway timeout")

	// The optimistic entry was dropped: server never recorded the message,
	// so the authoritative history is empty.
	msgs, ok := cache.MessagesFor(created.ID)
	require.True(t, ok)
	assert.Empty(t, msgs)
}

func TestSend_FailureAfterServerRecordedKeepsServerCopy(t *testing.T) {
	fake := newFakeBackend()
	coordinator, cache, _ := newTestCoordinator(fake)

	created, err := cache.Create(context.Background(), "chat")
	require.NoError(t, err)
	cache.SetActive(created.ID)

	fake.sendErr = errors.New("response lost")
	fake.sendRecorded = true
	require.Error(t, coordinator.Send(context.Background(), "maybe recorded"))

	// Exactly one copy survives, the server's, no local-id orphan.
	msgs, _ := cache.MessagesFor(created.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv-user", msgs[0].ID)
}

func TestSend_RefreshesSessionList(t *testing.T) {
	fake := newFakeBackend()
	coordinator, cache, _ := newTestCoordinator(fake)

	require.NoError(t, coordinator.Send(context.Background(), "hello"))
	assert.NotEmpty(t, cache.Sessions())
}

func TestSend_OverlappingSessionBrowsing(t *testing.T) {
	// Sends run while another goroutine reloads a different session and
	// refreshes the list, as the UI allows. Run under the race detector.
	fake := newFakeBackend()
	coordinator, cache, _ := newTestCoordinator(fake)

	work, err := cache.Create(context.Background(), "work")
	require.NoError(t, err)
	other, err := cache.Create(context.Background(), "other")
	require.NoError(t, err)
	cache.SetActive(work.ID)

	const sends = 20
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < sends; i++ {
			if err := coordinator.Send(context.Background(), fmt.Sprintf("question %d", i)); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = cache.Reload(context.Background(), other.ID)
			_ = cache.List(context.Background())
		}
	}()
	wg.Wait()

	// Every send landed as a user turn followed by its reply, in order.
	msgs, ok := cache.MessagesFor(work.ID)
	require.True(t, ok)
	require.Len(t, msgs, 2*sends)
	for i := 0; i < sends; i++ {
		assert.Equal(t, api.RoleUser, msgs[2*i].Role)
		assert.Equal(t, fmt.Sprintf("question %d", i), msgs[2*i].Content)
		assert.Equal(t, api.RoleAssistant, msgs[2*i+1].Role)
	}
}

func TestStartConversation(t *testing.T) {
	fake := newFakeBackend()
	coordinator, cache, orchestrator := newTestCoordinator(fake)
	orchestrator.SetResults([]api.Snippet{{ID: "stale"}})

	created, err := coordinator.StartConversation(context.Background())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(created.Title, "New chat "))
	assert.Equal(t, created.ID, cache.ActiveID())
	assert.Empty(t, orchestrator.Results())
}

// readyStoreAPI resolves any build on the first poll.
type readyStoreAPI struct {
	lastConfig api.StoreConfig
}

func (r *readyStoreAPI) UploadDocument(_ context.Context, fileName string, _ io.Reader) (*api.DocumentTask, error) {
	return &api.DocumentTask{TaskID: "task-1", Status: api.TaskValidated, FileName: fileName}, nil
}

func (r *readyStoreAPI) CreateStore(_ context.Context, req api.CreateStoreRequest) (*api.CreateStoreResponse, error) {
	r.lastConfig = req.Config
	return &api.CreateStoreResponse{StoreID: "vs-1"}, nil
}

func (r *readyStoreAPI) GetStore(_ context.Context, storeID string) (*api.VectorStore, error) {
	return &api.VectorStore{ID: storeID, Status: api.StoreReady, Config: r.lastConfig}, nil
}

func (r *readyStoreAPI) Recall(context.Context, string, api.RecallRequest) (*api.RecallResponse, error) {
	return &api.RecallResponse{}, nil
}

func instantPoll() poll.Config {
	cfg := poll.DefaultConfig()
	cfg.Sleep = func(context.Context, time.Duration) error { return nil }
	return cfg
}
