// Package knowledge drives the upload, configure, build, poll pipeline that
// turns a document into the client's active knowledge store, and owns the
// recall-result slot that store queries and chat citations write into.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/codexrag/ragcli/internal/api"
	"github.com/codexrag/ragcli/internal/poll"
)

// State is the build pipeline's current phase.
type State int

const (
	// Idle means no build attempt is underway.
	Idle State = iota
	// Uploading means a document upload is in flight.
	Uploading
	// AwaitingConfig means an upload validated and the build parameters
	// have not been submitted yet.
	AwaitingConfig
	// Building means a store build was requested and is being polled.
	Building
	// Ready means the last build finished and replaced the active store.
	Ready
	// Failed means the last build attempt ended in an error.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Uploading:
		return "uploading"
	case AwaitingConfig:
		return "awaiting-config"
	case Building:
		return "building"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBuildInFlight guards the single-build rule: a second build started
	// while one is polling is a logic error in the caller.
	ErrBuildInFlight = errors.New("a knowledge store build is already in progress")
	// ErrNoDocumentTask means config was submitted without a validated upload.
	ErrNoDocumentTask = errors.New("upload and validate a document before building")
	// ErrNoActiveStore means recall was requested before any store was built.
	ErrNoActiveStore = errors.New("build a knowledge base before searching it")
	// ErrStillBuilding is the client-side timeout: the attempt budget ran
	// out while the server still reported the store as building.
	ErrStillBuilding = errors.New("knowledge store is still building, retry later")
)

// Form bounds for the build parameters, matching the service's limits.
const (
	MinChunkSize = 256
	MaxChunkSize = 4096
	MaxOverlap   = 512
	MinTopK      = 1
	MaxTopK      = 10
)

// DefaultConfig is the pre-filled build form.
func DefaultConfig() api.StoreConfig {
	return api.StoreConfig{
		Name:      "Knowledge Base",
		ChunkSize: 2048,
		Overlap:   128,
		TopK:      3,
	}
}

// ValidateConfig rejects build parameters the service would refuse. The
// overlap must leave room for distinct chunk content and topK must request
// at least one passage.
func ValidateConfig(cfg api.StoreConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return errors.New("knowledge store name must not be empty")
	}
	if cfg.ChunkSize < MinChunkSize || cfg.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size must be between %d and %d tokens", MinChunkSize, MaxChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap > MaxOverlap {
		return fmt.Errorf("overlap must be between 0 and %d tokens", MaxOverlap)
	}
	if cfg.Overlap >= cfg.ChunkSize {
		return errors.New("overlap must be smaller than the chunk size")
	}
	if cfg.TopK < MinTopK || cfg.TopK > MaxTopK {
		return fmt.Errorf("topK must be between %d and %d", MinTopK, MaxTopK)
	}
	return nil
}

// API is the slice of the service client the orchestrator depends on.
type API interface {
	UploadDocument(ctx context.Context, fileName string, file io.Reader) (*api.DocumentTask, error)
	CreateStore(ctx context.Context, req api.CreateStoreRequest) (*api.CreateStoreResponse, error)
	GetStore(ctx context.Context, storeID string) (*api.VectorStore, error)
	Recall(ctx context.Context, storeID string, req api.RecallRequest) (*api.RecallResponse, error)
}

// Orchestrator sequences one build attempt at a time and exposes the single
// active knowledge store the chat can reference. Like the session cache it
// may be driven from concurrent goroutines: a mutex guards the pipeline
// state and the result slot, and is never held across a service call, so a
// long build poll cannot block readers.
type Orchestrator struct {
	client  API
	logger  *log.Logger
	pollCfg poll.Config

	mu           sync.Mutex
	state        State
	documentTask *api.DocumentTask
	activeStore  *api.VectorStore
	lastError    string

	recallResults []api.Snippet
	selected      int // 1-based index into recallResults; 0 = none
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPollConfig overrides the build-watch policy (tests inject a fake
// sleeper through it).
func WithPollConfig(cfg poll.Config) Option {
	return func(o *Orchestrator) { o.pollCfg = cfg }
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(client API, logger *log.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	o := &Orchestrator{
		client:  client,
		logger:  logger,
		pollCfg: poll.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the pipeline's current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// ActiveStore returns the store chat retrieval runs against, or nil when no
// build has succeeded yet.
func (o *Orchestrator) ActiveStore() *api.VectorStore {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeStore
}

// DocumentTask returns the validated upload awaiting configuration, if any.
func (o *Orchestrator) DocumentTask() *api.DocumentTask {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.documentTask
}

// LastError returns the surfaced message of the last failed build attempt.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

// Upload submits the chosen file. Success advances to AwaitingConfig;
// failure returns to Idle with the transport's message, leaving any prior
// store untouched.
func (o *Orchestrator) Upload(ctx context.Context, fileName string, file io.Reader) (*api.DocumentTask, error) {
	o.mu.Lock()
	if o.state == Building {
		o.mu.Unlock()
		return nil, ErrBuildInFlight
	}
	o.state = Uploading
	o.mu.Unlock()

	task, err := o.client.UploadDocument(ctx, fileName, file)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.state = Idle
		return nil, fmt.Errorf("upload document: %w", err)
	}
	o.documentTask = task
	o.state = AwaitingConfig
	o.logger.Info("document uploaded", "task", task.TaskID, "file", task.FileName, "status", task.Status)
	return task, nil
}

// SubmitConfig issues the build request for the pending document task and
// blocks (cooperatively) until the store reaches a terminal state or the
// polling budget runs out. On success the resolved store replaces the
// active one and stale recall results are cleared; on a failed build the
// previous store survives, and a rejected build request falls back to
// AwaitingConfig with the task retained for a resubmit.
func (o *Orchestrator) SubmitConfig(ctx context.Context, cfg api.StoreConfig) (*api.VectorStore, error) {
	o.mu.Lock()
	if o.state == Building {
		o.mu.Unlock()
		return nil, ErrBuildInFlight
	}
	if o.documentTask == nil {
		o.mu.Unlock()
		return nil, ErrNoDocumentTask
	}
	if err := ValidateConfig(cfg); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	taskID := o.documentTask.TaskID
	// Claim the single build slot before the request goes out so a second
	// submit overlapping this one is rejected, not interleaved.
	o.state = Building
	o.mu.Unlock()

	created, err := o.client.CreateStore(ctx, api.CreateStoreRequest{
		DocumentTaskID: taskID,
		Config:         cfg,
	})
	if err != nil {
		// The build never started; the task is still good for a resubmit.
		o.mu.Lock()
		o.state = AwaitingConfig
		o.mu.Unlock()
		return nil, fmt.Errorf("request store build: %w", err)
	}

	o.logger.Info("knowledge store build started", "store", created.StoreID)

	store, err := o.waitUntilReady(ctx, created.StoreID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.state = Failed
		o.lastError = err.Error()
		return nil, err
	}

	o.activeStore = store
	o.documentTask = nil
	o.state = Ready
	o.lastError = ""
	// Results shown so far were scoped to the previous store.
	o.recallResults = nil
	o.selected = 0
	o.logger.Info("knowledge store ready", "store", store.ID, "name", store.Name)
	return store, nil
}

// waitUntilReady polls the store until it is ready or failed, translating
// the engine's exhaustion into the retry-later wording.
func (o *Orchestrator) waitUntilReady(ctx context.Context, storeID string) (*api.VectorStore, error) {
	store, err := poll.Until(ctx, o.pollCfg, func(ctx context.Context) (*api.VectorStore, poll.Outcome, error) {
		current, err := o.client.GetStore(ctx, storeID)
		if err != nil {
			return nil, poll.Pending, err
		}
		switch current.Status {
		case api.StoreReady:
			return current, poll.Done, nil
		case api.StoreFailed:
			reason := current.FailureReason
			if reason == "" {
				reason = "knowledge store build failed, check the service logs"
			}
			return nil, poll.Failed, errors.New(reason)
		default:
			return nil, poll.Pending, nil
		}
	})
	if errors.Is(err, poll.ErrExhausted) {
		return nil, ErrStillBuilding
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Dismiss acknowledges a build result and returns the pipeline to Idle.
// The active store and recall results are unaffected.
func (o *Orchestrator) Dismiss() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == Ready || o.state == Failed {
		o.state = Idle
		o.lastError = ""
	}
}

// DiscardUpload drops the pending document selection on explicit user
// action, e.g. cancelling the config form.
func (o *Orchestrator) DiscardUpload() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == AwaitingConfig || o.state == Uploading {
		o.documentTask = nil
		o.state = Idle
	}
}

// Recall queries the active store. A blank query clears the result panel
// without a network call. The returned snippets become the current results
// and any selected detail view is reset.
func (o *Orchestrator) Recall(ctx context.Context, query string) ([]api.Snippet, error) {
	o.mu.Lock()
	store := o.activeStore
	o.mu.Unlock()
	if store == nil {
		return nil, ErrNoActiveStore
	}
	query = strings.TrimSpace(query)
	if query == "" {
		o.ClearResults()
		return nil, nil
	}

	resp, err := o.client.Recall(ctx, store.ID, api.RecallRequest{
		Query:       query,
		TopK:        store.Config.TopK,
		WithContent: true,
	})
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	o.SetResults(resp.Items)
	return resp.Items, nil
}

// Results returns the snippets currently shown outside the conversation.
func (o *Orchestrator) Results() []api.Snippet {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recallResults
}

// SetResults replaces the result panel contents and clears the detail
// selection, which referred to the previous result set.
func (o *Orchestrator) SetResults(items []api.Snippet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recallResults = items
	o.selected = 0
}

// ClearResults empties the result panel.
func (o *Orchestrator) ClearResults() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recallResults = nil
	o.selected = 0
}

// SelectResult marks one snippet (1-based) for the detail view; out-of-range
// indices clear the selection.
func (o *Orchestrator) SelectResult(index int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if index < 1 || index > len(o.recallResults) {
		o.selected = 0
		return
	}
	o.selected = index
}

// SelectedResult returns the snippet in the detail view and its 1-based
// index, or nil when nothing is selected.
func (o *Orchestrator) SelectedResult() (*api.Snippet, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selected == 0 {
		return nil, 0
	}
	return &o.recallResults[o.selected-1], o.selected
}
