package tiktok_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brandclip-worker-service/internal/tiktok"
)

func TestClient_InitUpload(t *testing.T) {
	var got map[string]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/post/publish/video/init/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"data":{"publish_id":"p-1","upload_url":"https://up.example/1"},"error":{"code":"ok"}}`)
	}))
	defer srv.Close()

	c := tiktok.NewClient(tiktok.Config{BaseURL: srv.URL})
	res, err := c.InitUpload(context.Background(), "tok", tiktok.PostInfo{
		Title:         "hello",
		PrivacyLevel:  tiktok.PrivacySelfOnly,
		DisableStitch: true,
	}, 2048)
	require.NoError(t, err)

	assert.Equal(t, "p-1", res.PublishID)
	assert.Equal(t, "SELF_ONLY", got["post_info"]["privacy_level"])
	assert.Equal(t, true, got["post_info"]["disable_stitch"])
	assert.Equal(t, "FILE_UPLOAD", got["source_info"]["source"])
	assert.Equal(t, float64(2048), got["source_info"]["video_size"])
	assert.Equal(t, float64(2048), got["source_info"]["chunk_size"])
	assert.Equal(t, float64(1), got["source_info"]["total_chunk_count"])
}

func TestClient_UploadVideo_ContentRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, 1000), 0o644))

	var rng string
	var n int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		rng = r.Header.Get("Content-Range")
		b, _ := io.ReadAll(r.Body)
		n = len(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := tiktok.NewClient(tiktok.Config{BaseURL: srv.URL})
	require.NoError(t, c.UploadVideo(context.Background(), srv.URL+"/upload", path))
	assert.Equal(t, "bytes 0-999/1000", rng)
	assert.Equal(t, 1000, n)
}

func TestClient_RejectsEmptyVideo(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "empty.mp4")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	c := tiktok.NewClient(tiktok.Config{BaseURL: srv.URL})
	_, err := c.InitUpload(context.Background(), "tok", tiktok.PostInfo{Title: "t"}, 0)
	assert.ErrorIs(t, err, tiktok.ErrEmptyVideo)
	assert.ErrorIs(t, c.UploadVideo(context.Background(), srv.URL+"/upload", path), tiktok.ErrEmptyVideo)
	assert.Zero(t, calls, "nothing may reach the platform for an empty file")
}

func TestClient_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"data":{},"error":{"code":"access_token_invalid","message":"expired","log_id":"L1"}}`)
	}))
	defer srv.Close()

	c := tiktok.NewClient(tiktok.Config{BaseURL: srv.URL})
	_, err := c.QueryCreatorInfo(context.Background(), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, tiktok.ErrUnauthorized)

	var apiErr *tiktok.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "creator_info", apiErr.Step)
	assert.Equal(t, "L1", apiErr.LogID)
}

func TestClient_ErrorCodeWith200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":{},"error":{"code":"rate_limit_exceeded","message":"slow down"}}`)
	}))
	defer srv.Close()

	c := tiktok.NewClient(tiktok.Config{BaseURL: srv.URL})
	_, err := c.FetchStatus(context.Background(), "tok", "p-1")

	var apiErr *tiktok.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.RateLimited())
	assert.False(t, errors.Is(err, tiktok.ErrUnauthorized))
}

func TestClient_FetchStatusAndFinalize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "p-9", body["publish_id"])
		switch r.URL.Path {
		case "/v2/post/publish/status/fetch/":
			_, _ = io.WriteString(w, `{"data":{"status":"PUBLISH_FAILED","fail_reason":"spam_risk"},"error":{"code":"ok"}}`)
		case "/v2/post/publish/video/finalize/":
			_, _ = io.WriteString(w, `{"data":{"share_url":"https://www.tiktok.com/@b/video/7","video_id":"7"},"error":{"code":"ok"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := tiktok.NewClient(tiktok.Config{BaseURL: srv.URL})
	st, err := c.FetchStatus(context.Background(), "tok", "p-9")
	require.NoError(t, err)
	assert.True(t, st.Failed())
	assert.Equal(t, "spam_risk", st.FailReason)

	fin, err := c.Finalize(context.Background(), "tok", "p-9")
	require.NoError(t, err)
	assert.Equal(t, "7", fin.VideoID)
}

func TestClient_RefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "ck", r.PostForm.Get("client_key"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		_, _ = io.WriteString(w, `{"access_token":"at-new","expires_in":86400,"refresh_token":"rt-new","refresh_expires_in":31536000,"open_id":"o1"}`)
	}))
	defer srv.Close()

	c := tiktok.NewClient(tiktok.Config{BaseURL: srv.URL, ClientKey: "ck", ClientSecret: "cs"})
	tok, err := c.RefreshToken(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", tok.AccessToken)
	assert.Equal(t, "rt-new", tok.RefreshToken)
}

func TestClient_RefreshTokenRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"refresh token revoked"}`)
	}))
	defer srv.Close()

	c := tiktok.NewClient(tiktok.Config{BaseURL: srv.URL})
	_, err := c.RefreshToken(context.Background(), "rt")
	var apiErr *tiktok.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid_grant", apiErr.Code)
}
