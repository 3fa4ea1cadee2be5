// Package chat coordinates sending a user message: optimistic local echo,
// the actual send, merging the assistant's cited reply, and falling back to
// the server's authoritative history when the send fails.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/codexrag/ragcli/internal/api"
	"github.com/codexrag/ragcli/internal/knowledge"
	"github.com/codexrag/ragcli/internal/session"
)

// ErrEmptyMessage rejects blank input before any network call.
var ErrEmptyMessage = errors.New("message is empty")

// Sender is the slice of the service client the coordinator depends on.
type Sender interface {
	SendMessage(ctx context.Context, sessionID string, req api.SendMessageRequest) (*api.SendMessageResponse, error)
}

// Coordinator runs the optimistic send flow against the session cache and
// the knowledge orchestrator's result slot.
type Coordinator struct {
	client    Sender
	cache     *session.Cache
	knowledge *knowledge.Orchestrator
	logger    *log.Logger

	now func() time.Time
}

// NewCoordinator wires a coordinator to its collaborators.
func NewCoordinator(client Sender, cache *session.Cache, kn *knowledge.Orchestrator, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		client:    client,
		cache:     cache,
		knowledge: kn,
		logger:    logger,
		now:       time.Now,
	}
}

// Send posts one user message to the active session, creating a session
// first when none is active. The user message is appended to the cached
// history before the network call resolves; on success the assistant reply
// and its citations are merged in, on failure the session history is
// re-synchronized from the server because the optimistic entry can no
// longer be trusted.
func (c *Coordinator) Send(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return ErrEmptyMessage
	}

	sessionID := c.cache.ActiveID()
	if sessionID == "" {
		created, err := c.cache.Create(ctx, "")
		if err != nil {
			return err
		}
		sessionID = created.ID
		c.cache.SetActive(sessionID)
	}

	// Phase 1: local apply. The synthetic id never collides with server ids
	// and is discarded wholesale on resync.
	c.cache.Append(sessionID, api.Message{
		ID:        "local-" + uuid.NewString(),
		Role:      api.RoleUser,
		Content:   content,
		Timestamp: c.now(),
		Citations: []api.Snippet{},
	})

	req := api.SendMessageRequest{Message: content}
	if store := c.knowledge.ActiveStore(); store != nil {
		req.VectorStoreID = store.ID
	}

	resp, err := c.client.SendMessage(ctx, sessionID, req)
	if err != nil {
		// Phase 2 failed: the optimistic message may or may not have been
		// recorded server-side. Take the server's word for it.
		if syncErr := c.cache.Reload(ctx, sessionID); syncErr != nil {
			c.logger.Warn("history resync after failed send also failed", "session", sessionID, "err", syncErr)
		}
		return fmt.Errorf("send message: %w", err)
	}

	c.cache.Append(sessionID, resp.Message)
	// The latest citations double as the current recall results; the old
	// detail selection referred to the previous set.
	c.knowledge.SetResults(resp.Message.Citations)

	// Keep ordering and titles current. A failed refresh is not a send
	// failure, only a stale list.
	if err := c.cache.List(ctx); err != nil {
		c.logger.Warn("session list refresh failed", "err", err)
	}
	return nil
}

// StartConversation creates a fresh, explicitly titled session, makes it
// active and clears the recall panel.
func (c *Coordinator) StartConversation(ctx context.Context) (*api.Session, error) {
	title := "New chat " + c.now().Format("15:04")
	created, err := c.cache.Create(ctx, title)
	if err != nil {
		return nil, err
	}
	c.cache.SetActive(created.ID)
	c.knowledge.ClearResults()
	return created, nil
}
