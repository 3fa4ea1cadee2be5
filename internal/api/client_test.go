package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_StripsTrailingSlash(t *testing.T) {
	c := NewClient("http://example.test/api/v1/")
	assert.Equal(t, "http://example.test/api/v1", c.BaseURL())
}

func TestBuildURL(t *testing.T) {
	c := NewClient("http://example.test/api/v1")

	assert.Equal(t, "http://example.test/api/v1/documents", c.buildURL("/documents"))
	assert.Equal(t, "http://example.test/api/v1/documents", c.buildURL("documents"))
	// Server-provided absolute status URLs pass through untouched.
	assert.Equal(t, "https://other.test/status/1", c.buildURL("https://other.test/status/1"))
}

func TestNormalizeError_Precedence(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        string
	}{
		{
			name:        "string detail wins",
			status:      400,
			contentType: "application/json",
			body:        `{"detail": "document too large", "message": "other"}`,
			want:        "document too large",
		},
		{
			name:        "message when detail missing",
			status:      400,
			contentType: "application/json",
			body:        `{"message": "bad request"}`,
			want:        "bad request",
		},
		{
			name:        "structured detail is stringified",
			status:      422,
			contentType: "application/json",
			body:        `{"detail": {"field": "chunkSize"}}`,
			want:        `{"field": "chunkSize"}`,
		},
		{
			name:        "raw text fallback",
			status:      500,
			contentType: "text/plain",
			body:        "internal server error",
			want:        "internal server error",
		},
		{
			name:        "generic message on empty body",
			status:      502,
			contentType: "text/plain",
			body:        "",
			want:        "request failed: 502",
		},
		{
			name:        "generic message on empty json object",
			status:      503,
			contentType: "application/json",
			body:        `{}`,
			want:        "request failed: 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c := NewClient(server.URL)
			_, err := c.GetStore(context.Background(), "s1")

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.status, reqErr.StatusCode)
			assert.Equal(t, tt.want, reqErr.Message)
		})
	}
}

func TestUploadDocument_MultipartForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/documents", r.URL.Path)
		// The multipart writer must own the boundary.
		assert.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data; boundary=")

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.md", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "# notes", string(content))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"taskId":"t-1","status":"validated","fileName":"notes.md","fileType":"md","fileSize":7,"createdAt":"2025-01-02T03:04:05Z","updatedAt":"2025-01-02T03:04:06Z"}`)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	task, err := c.UploadDocument(context.Background(), "notes.md", strings.NewReader("# notes"))

	require.NoError(t, err)
	assert.Equal(t, "t-1", task.TaskID)
	assert.Equal(t, TaskValidated, task.Status)
	assert.Equal(t, int64(7), task.FileSize)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), task.CreatedAt)
}

func TestDeleteSession_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/chat/sessions/s-9", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	require.NoError(t, c.DeleteSession(context.Background(), "s-9"))
}

func TestCall_NonJSONSuccessReturnsRawText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "pong")
	}))
	defer server.Close()

	c := NewClient(server.URL)
	var out string
	require.NoError(t, c.call(context.Background(), http.MethodGet, "/health", nil, &out))
	assert.Equal(t, "pong", out)
}

func TestSendMessage_CarriesVectorStoreID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"message":"hello","vectorStoreId":"vs-1"}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"sessionId":"s-1","message":{"id":"m-2","role":"assistant","content":"hi","timestamp":"2025-01-02T03:04:05Z","citations":[]}}`)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	resp, err := c.SendMessage(context.Background(), "s-1", SendMessageRequest{
		Message:       "hello",
		VectorStoreID: "vs-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "s-1", resp.SessionID)
	assert.Equal(t, RoleAssistant, resp.Message.Role)
}

func TestListSessions_PageParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("page_size"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"items":[],"page":1,"pageSize":50,"total":0}`)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	list, err := c.ListSessions(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestDo_TransportErrorIsNormalized(t *testing.T) {
	c := NewClient("http://127.0.0.1:1") // nothing listens here
	_, err := c.GetStore(context.Background(), "s1")

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Message, "request failed")
}
