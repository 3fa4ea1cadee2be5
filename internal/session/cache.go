// Package session maintains the client-side view of conversation sessions:
// the ordered session list, per-session message history (fetched lazily),
// and the pointer to the session currently on screen.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/codexrag/ragcli/internal/api"
)

// UntitledSession is shown when the server returns a session with no title.
const UntitledSession = "Untitled session"

// defaultPageSize matches the single-page fetch the client performs; the
// service caps page size at this value.
const defaultPageSize = 50

// API is the slice of the service client the cache depends on.
type API interface {
	ListSessions(ctx context.Context, page, pageSize int) (*api.SessionList, error)
	GetSession(ctx context.Context, sessionID string) (*api.SessionDetail, error)
	CreateSession(ctx context.Context, title string) (*api.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Cache owns the session list and message histories. Callers may drive it
// from concurrent goroutines (the UI runs each operation on its own): a
// mutex guards the cached state, fetches happen outside the lock, and every
// update replaces slices instead of mutating them in place, so overlapping
// operations stay last-write-wins without tearing each other's data.
type Cache struct {
	client   API
	logger   *log.Logger
	pageSize int

	mu       sync.Mutex
	sessions []api.Session
	messages map[string][]api.Message
	activeID string
}

// Option customizes a Cache.
type Option func(*Cache)

// WithPageSize overrides the session list page size.
func WithPageSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewCache creates an empty cache backed by the given client.
func NewCache(client API, logger *log.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = log.Default()
	}
	c := &Cache{
		client:   client,
		logger:   logger,
		pageSize: defaultPageSize,
		messages: make(map[string][]api.Message),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sessions returns the cached session list, most recently updated first.
func (c *Cache) Sessions() []api.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions
}

// ActiveID returns the id of the session currently selected for display,
// or "" when none is.
func (c *Cache) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// ActiveMessages returns the cached history of the active session.
func (c *Cache) ActiveMessages() []api.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID == "" {
		return nil
	}
	return c.messages[c.activeID]
}

// MessagesFor returns the cached history of one session and whether it has
// been fetched yet.
func (c *Cache) MessagesFor(sessionID string) ([]api.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.messages[sessionID]
	return msgs, ok
}

// List replaces the session list with the server's view, re-sorted by
// updatedAt descending. When no session is active and the list is
// non-empty, the most recently updated session becomes active. Message
// histories are left untouched, so List is safe to interleave with sends.
func (c *Cache) List(ctx context.Context) error {
	list, err := c.client.ListSessions(ctx, 1, c.pageSize)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	sessions := make([]api.Session, len(list.Items))
	for i, s := range list.Items {
		sessions[i] = normalize(s)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = sessions
	if c.activeID == "" && len(c.sessions) > 0 {
		c.activeID = c.sessions[0].ID
	}
	return nil
}

// Select makes sessionID active and lazily fetches its history. A session
// whose messages are already cached is not re-fetched.
func (c *Cache) Select(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	c.activeID = sessionID
	_, cached := c.messages[sessionID]
	c.mu.Unlock()
	if cached {
		return nil
	}
	return c.Reload(ctx, sessionID)
}

// Reload replaces one session's cached history with the server's
// authoritative view. Used for lazy loads and for re-synchronizing after a
// failed optimistic send.
func (c *Cache) Reload(ctx context.Context, sessionID string) error {
	detail, err := c.client.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	messages := detail.Messages
	if messages == nil {
		messages = []api.Message{}
	}
	c.mu.Lock()
	c.messages[sessionID] = messages
	c.mu.Unlock()
	return nil
}

// Create makes a new session server-side and inserts it at the front of the
// list, deduplicating in case the server echoed an id we already know. An
// empty history is seeded so the session renders immediately.
func (c *Cache) Create(ctx context.Context, title string) (*api.Session, error) {
	created, err := c.client.CreateSession(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session := normalize(*created)

	c.mu.Lock()
	defer c.mu.Unlock()
	rest := make([]api.Session, 0, len(c.sessions)+1)
	rest = append(rest, session)
	for _, s := range c.sessions {
		if s.ID != session.ID {
			rest = append(rest, s)
		}
	}
	c.sessions = rest

	if _, ok := c.messages[session.ID]; !ok {
		c.messages[session.ID] = []api.Message{}
	}
	return &session, nil
}

// Delete removes a session. A failed delete leaves the cache unchanged.
// When the active session is deleted, the next most recently updated
// session takes its place, or none if the list is now empty.
func (c *Cache) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := make([]api.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.ID != sessionID {
			remaining = append(remaining, s)
		}
	}
	c.sessions = remaining
	delete(c.messages, sessionID)

	if c.activeID == sessionID {
		c.activeID = ""
		if len(c.sessions) > 0 {
			c.activeID = c.sessions[0].ID
		}
	}

	c.logger.Debug("session deleted", "id", sessionID, "remaining", len(c.sessions))
	return nil
}

// Append adds a message to one session's cached history. The history is
// append-only, so concurrent in-flight sends keep their relative order no
// matter which completes first.
func (c *Cache) Append(sessionID string, msg api.Message) {
	c.mu.Lock()
	c.messages[sessionID] = append(c.messages[sessionID], msg)
	c.mu.Unlock()
}

// SetActive moves the display pointer without any fetch. Used when the
// caller knows the history is already cached or will be loaded separately.
func (c *Cache) SetActive(sessionID string) {
	c.mu.Lock()
	c.activeID = sessionID
	c.mu.Unlock()
}

func normalize(s api.Session) api.Session {
	if s.Title == "" {
		s.Title = UntitledSession
	}
	return s
}
