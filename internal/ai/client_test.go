package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandclip-worker-service/internal/ai"
)

func TestClient_RewriteScript(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  Fresh narration.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := ai.NewClient(ai.Config{APIKey: "k", BaseURL: srv.URL + "/v1", ChatModel: "test-model"})
	script, err := c.RewriteScript(context.Background(), "raw words", ai.ScriptOptions{Language: "es", Style: "upbeat"})
	require.NoError(t, err)

	assert.Equal(t, "Fresh narration.", script)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[0].Content, `"es"`)
	assert.Equal(t, "raw words", got.Messages[1].Content)
}

func TestClient_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/speech", r.URL.Path)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "speech.mp3")
	c := ai.NewClient(ai.Config{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, c.Synthesize(context.Background(), "hello", "alloy", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "ID3-fake-mp3", string(data))
}
