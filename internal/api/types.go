package api

import "time"

// Document task statuses reported by the service.
const (
	TaskPending   = "pending"
	TaskValidated = "validated"
	TaskFailed    = "failed"
)

// Knowledge store statuses reported by the service.
const (
	StoreBuilding = "building"
	StoreReady    = "ready"
	StoreFailed   = "failed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StoreConfig holds the chunking and retrieval parameters for a knowledge
// store build. Immutable once submitted.
type StoreConfig struct {
	Name      string `json:"name"`
	ChunkSize int    `json:"chunkSize"`
	Overlap   int    `json:"overlap"`
	TopK      int    `json:"topK"`
}

// DocumentTask is the server-side record of an uploaded document awaiting
// (or past) validation.
type DocumentTask struct {
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"`
	FileName  string    `json:"fileName"`
	FileType  string    `json:"fileType"`
	FileSize  int64     `json:"fileSize"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VectorStore is the server's view of a knowledge store, including its
// build status.
type VectorStore struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Status         string      `json:"status"`
	DocumentTaskID string      `json:"documentTaskId"`
	Config         StoreConfig `json:"config"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	FailureReason  string      `json:"failureReason,omitempty"`
}

// CreateStoreRequest asks the service to build a store from a validated
// document task.
type CreateStoreRequest struct {
	DocumentTaskID string      `json:"documentTaskId"`
	Config         StoreConfig `json:"config"`
}

// CreateStoreResponse acknowledges a build request. The store itself must be
// polled via its id until it reaches a terminal status.
type CreateStoreResponse struct {
	StoreID   string `json:"storeId"`
	TaskID    string `json:"taskId"`
	StatusURL string `json:"statusUrl"`
}

// Snippet is a retrieved passage. Similarity is not guaranteed to be
// normalized to [0,1] upstream; treat it as an opaque score.
type Snippet struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Similarity float64        `json:"similarity"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RecallRequest queries a store for the top-K passages closest to Query.
type RecallRequest struct {
	Query       string `json:"query"`
	TopK        int    `json:"topK"`
	WithContent bool   `json:"withContent"`
}

// RecallResponse carries the retrieved passages for one query.
type RecallResponse struct {
	StoreID string    `json:"storeId"`
	Items   []Snippet `json:"items"`
}

// Session is one named conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionList is one page of sessions.
type SessionList struct {
	Items    []Session `json:"items"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
	Total    int       `json:"total"`
}

// SessionDetail is a session together with its full message history.
type SessionDetail struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
}

// CreateSessionRequest creates a conversation; the title is optional and the
// server assigns one when omitted.
type CreateSessionRequest struct {
	Title string `json:"title,omitempty"`
}

// Message is one chat turn. Citations are read-only references to the
// passages the assistant grounded its reply on.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Citations []Snippet `json:"citations"`
}

// SendMessageRequest posts one user message. VectorStoreID, when set, tells
// the server which store to run retrieval against.
type SendMessageRequest struct {
	Message       string `json:"message"`
	VectorStoreID string `json:"vectorStoreId,omitempty"`
}

// SendMessageResponse carries the assistant's reply.
type SendMessageResponse struct {
	SessionID string  `json:"sessionId"`
	Message   Message `json:"message"`
}
