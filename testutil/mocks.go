package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockYouTubeServer creates a test server that mocks YouTube Data API responses
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockYouTubeServer creates a new mock YouTube API server
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockVideoResponse adds a handler for the videos.list endpoint returning one
// live video with the given active chat id (empty chatID = not live).
func (m *MockYouTubeServer) MockVideoResponse(videoID, title, chatID string) {
	m.Handlers["/youtube/v3/videos"] = func(w http.ResponseWriter, r *http.Request) {
		item := map[string]interface{}{
			"id":      videoID,
			"snippet": map[string]interface{}{"title": title},
		}
		if chatID != "" {
			item["liveStreamingDetails"] = map[string]string{"activeLiveChatId": chatID}
		} else {
			item["liveStreamingDetails"] = map[string]string{}
		}
		writeJSON(w, map[string]interface{}{"items": []interface{}{item}})
	}
}

// MockVideoNotFound makes videos.list return an empty item list.
func (m *MockYouTubeServer) MockVideoNotFound() {
	m.Handlers["/youtube/v3/videos"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"items": []interface{}{}})
	}
}

// ChatMessage is the minimal shape for mocked liveChatMessages.list items.
type ChatMessage struct {
	ID          string
	Author      string
	Text        string
	PublishedAt string
}

// MockChatPage adds a handler for liveChatMessages.list returning the given
// messages and continuation token.
func (m *MockYouTubeServer) MockChatPage(messages []ChatMessage, nextToken string) {
	m.Handlers["/youtube/v3/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		items := make([]interface{}, 0, len(messages))
		for _, msg := range messages {
			items = append(items, map[string]interface{}{
				"id": msg.ID,
				"snippet": map[string]interface{}{
					"displayMessage": msg.Text,
					"publishedAt":    msg.PublishedAt,
				},
				"authorDetails": map[string]interface{}{
					"displayName": msg.Author,
				},
			})
		}
		writeJSON(w, map[string]interface{}{
			"items":         items,
			"nextPageToken": nextToken,
		})
	}
}

// MockChatEnded makes liveChatMessages.list fail with the liveChatEnded reason.
func (m *MockYouTubeServer) MockChatEnded() {
	m.MockChatError(http.StatusForbidden, "liveChatEnded", "The live chat is no longer live.")
}

// MockChatError makes liveChatMessages.list fail with an arbitrary API error.
func (m *MockYouTubeServer) MockChatError(code int, reason, message string) {
	m.Handlers["/youtube/v3/liveChat/messages"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"error": map[string]interface{}{
				"code":    code,
				"message": message,
				"errors": []map[string]string{
					{"reason": reason, "message": message},
				},
			},
		})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
