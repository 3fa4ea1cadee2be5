// Package api implements the typed HTTP client for the knowledge-chat
// service. It is the only place in the client that touches the network:
// every remote failure is normalized into a *RequestError with a single
// user-facing message before it crosses this boundary.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
)

// RequestError is the normalized form of any failed call: transport errors,
// structured application errors and unexpected status codes all end up here.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return e.Message
}

// Client talks to one deployment of the knowledge-chat service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying http.Client (used by tests and by
// callers that need custom transports).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client rooted at baseURL. A trailing slash on the base
// URL is stripped so path joining stays predictable.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No transport-level timeout: the only bounded wait in this client
		// is the polling engine's attempt budget.
		httpClient: &http.Client{},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the resolved service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// buildURL resolves a request path against the base URL. Absolute URLs pass
// through unchanged so server-provided status URLs can be followed directly.
func (c *Client) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

// call issues a JSON request and decodes the response into out. A nil body
// sends no payload; a nil out discards the response body. If out is a
// *string and the server replied with something other than JSON, the raw
// response text is returned as-is.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

// upload posts a file as multipart form data. The multipart writer owns the
// Content-Type header so the boundary is always set correctly.
func (c *Client) upload(ctx context.Context, path, fieldName, fileName string, file io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(fieldName, fileName)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy file into form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.logger.Debug("api request", "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.normalizeError(resp.StatusCode, raw, isJSON)
	}

	if resp.StatusCode == http.StatusNoContent || len(raw) == 0 || out == nil {
		return nil
	}

	// Escape hatch for endpoints that answer with plain text.
	if !isJSON {
		if s, ok := out.(*string); ok {
			*s = string(raw)
			return nil
		}
		return &RequestError{StatusCode: resp.StatusCode, Message: "unexpected non-JSON response"}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &RequestError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// normalizeError extracts the most specific message the server offered:
// a string "detail" field, then a string "message" field, then a structured
// "detail" stringified, then the raw body, then a generic status line.
func (c *Client) normalizeError(status int, raw []byte, isJSON bool) *RequestError {
	message := fmt.Sprintf("request failed: %d", status)

	if isJSON && len(raw) > 0 {
		var body struct {
			Detail  json.RawMessage `json:"detail"`
			Message string          `json:"message"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			var detailStr string
			if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detailStr) == nil && detailStr != "" {
				message = detailStr
			} else if body.Message != "" {
				message = body.Message
			} else if len(body.Detail) > 0 && string(body.Detail) != "null" {
				message = string(body.Detail)
			}
		}
	} else if len(raw) > 0 {
		message = string(raw)
	}

	return &RequestError{StatusCode: status, Message: message}
}

// UploadDocument submits a document for validation and returns its task.
func (c *Client) UploadDocument(ctx context.Context, fileName string, file io.Reader) (*DocumentTask, error) {
	var task DocumentTask
	if err := c.upload(ctx, "/documents", "file", fileName, file, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateStore requests a knowledge-store build from a validated document task.
func (c *Client) CreateStore(ctx context.Context, req CreateStoreRequest) (*CreateStoreResponse, error) {
	var resp CreateStoreResponse
	if err := c.call(ctx, http.MethodPost, "/vector-stores", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStore fetches the current state of a knowledge store.
func (c *Client) GetStore(ctx context.Context, storeID string) (*VectorStore, error) {
	var store VectorStore
	if err := c.call(ctx, http.MethodGet, "/vector-stores/"+url.PathEscape(storeID), nil, &store); err != nil {
		return nil, err
	}
	return &store, nil
}

// Recall runs a similarity query against a store.
func (c *Client) Recall(ctx context.Context, storeID string, req RecallRequest) (*RecallResponse, error) {
	var resp RecallResponse
	path := "/vector-stores/" + url.PathEscape(storeID) + "/recall"
	if err := c.call(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSessions fetches one page of conversation sessions.
func (c *Client) ListSessions(ctx context.Context, page, pageSize int) (*SessionList, error) {
	var list SessionList
	path := fmt.Sprintf("/chat/sessions?page=%d&page_size=%d", page, pageSize)
	if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetSession fetches a session together with its full message history.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*SessionDetail, error) {
	var detail SessionDetail
	if err := c.call(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CreateSession creates a conversation. An empty title lets the server pick.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	var session Session
	if err := c.call(ctx, http.MethodPost, "/chat/sessions", CreateSessionRequest{Title: title}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a conversation and its history server-side.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, http.MethodDelete, "/chat/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// SendMessage posts one user message and returns the assistant's reply.
func (c *Client) SendMessage(ctx context.Context, sessionID string, req SendMessageRequest) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	path := "/chat/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.call(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
