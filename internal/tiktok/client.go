// Package tiktok is a minimal client for the Content Posting API direct-post
// flow and OAuth token refresh.
package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const DefaultBaseURL = "https://open.tiktokapis.com"

// PrivacySelfOnly is the only level available to unaudited integrations.
const PrivacySelfOnly = "SELF_ONLY"

// Publish status values reported by status fetch.
const (
	StatusProcessingUpload   = "PROCESSING_UPLOAD"
	StatusProcessingDownload = "PROCESSING_DOWNLOAD"
	StatusSendToUserInbox    = "SEND_TO_USER_INBOX"
	StatusPublishComplete    = "PUBLISH_COMPLETE"
	StatusFailed             = "FAILED"
	StatusPublishFailed      = "PUBLISH_FAILED"
)

var (
	ErrUnauthorized  = errors.New("tiktok: access token rejected")
	ErrPublishFailed = errors.New("tiktok: publish failed")
	ErrEmptyVideo    = errors.New("tiktok: video file is empty")
)

// APIError is a non-success response from the platform.
type APIError struct {
	Step       string
	HTTPStatus int
	Code       string
	Message    string
	LogID      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tiktok %s: http %d: %s: %s (log_id=%s)", e.Step, e.HTTPStatus, e.Code, e.Message, e.LogID)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && (e.HTTPStatus == http.StatusUnauthorized ||
		e.Code == "access_token_invalid" || e.Code == "access_token_expired")
}

// RateLimited reports whether the platform asked us to slow down.
func (e *APIError) RateLimited() bool {
	return e.HTTPStatus == http.StatusTooManyRequests || e.Code == "rate_limit_exceeded"
}

type Config struct {
	BaseURL      string
	ClientKey    string
	ClientSecret string
	Timeout      time.Duration
}

type Client struct {
	baseURL      string
	clientKey    string
	clientSecret string
	http         *http.Client
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:      base,
		clientKey:    cfg.ClientKey,
		clientSecret: cfg.ClientSecret,
		http:         &http.Client{Timeout: timeout},
	}
}

type CreatorInfo struct {
	CreatorUsername         string   `json:"creator_username"`
	CreatorNickname         string   `json:"creator_nickname"`
	PrivacyLevelOptions     []string `json:"privacy_level_options"`
	CommentDisabled         bool     `json:"comment_disabled"`
	DuetDisabled            bool     `json:"duet_disabled"`
	StitchDisabled          bool     `json:"stitch_disabled"`
	MaxVideoPostDurationSec int      `json:"max_video_post_duration_sec"`
}

func (c *Client) QueryCreatorInfo(ctx context.Context, token string) (*CreatorInfo, error) {
	var info CreatorInfo
	if err := c.call(ctx, "creator_info", "/v2/post/publish/creator_info/query/", token, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

type PostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type SourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int64  `json:"video_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunkCount int    `json:"total_chunk_count"`
}

type InitResult struct {
	PublishID string `json:"publish_id"`
	UploadURL string `json:"upload_url"`
}

// InitUpload declares a single-chunk FILE_UPLOAD of size bytes.
func (c *Client) InitUpload(ctx context.Context, token string, post PostInfo, size int64) (*InitResult, error) {
	if size <= 0 {
		return nil, ErrEmptyVideo
	}
	body := struct {
		PostInfo   PostInfo   `json:"post_info"`
		SourceInfo SourceInfo `json:"source_info"`
	}{
		PostInfo: post,
		SourceInfo: SourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       size,
			ChunkSize:       size,
			TotalChunkCount: 1,
		},
	}
	var res InitResult
	if err := c.call(ctx, "init", "/v2/post/publish/video/init/", token, body, &res); err != nil {
		return nil, err
	}
	if res.PublishID == "" || res.UploadURL == "" {
		return nil, &APIError{Step: "init", HTTPStatus: http.StatusOK, Code: "incomplete_response", Message: "missing publish_id or upload_url"}
	}
	return &res, nil
}

// UploadVideo PUTs the whole file to the pre-signed upload URL.
func (c *Client) UploadVideo(ctx context.Context, uploadURL, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload file: %w", err)
	}
	size := st.Size()
	if size == 0 {
		return ErrEmptyVideo
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("Content-Range", ContentRange(size))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tiktok upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Step: "upload", HTTPStatus: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(msg))}
	}
	return nil
}

// ContentRange covers the full byte range of a single-chunk upload.
func ContentRange(size int64) string {
	return fmt.Sprintf("bytes 0-%d/%d", size-1, size)
}

type PublishStatus struct {
	Status                  string   `json:"status"`
	FailReason              string   `json:"fail_reason"`
	PubliclyAvailablePostID []string `json:"publicaly_available_post_id"`
	UploadedBytes           int64    `json:"uploaded_bytes"`
}

func (s *PublishStatus) Failed() bool {
	return s.Status == StatusFailed || s.Status == StatusPublishFailed
}

func (c *Client) FetchStatus(ctx context.Context, token, publishID string) (*PublishStatus, error) {
	var st PublishStatus
	body := map[string]string{"publish_id": publishID}
	if err := c.call(ctx, "status", "/v2/post/publish/status/fetch/", token, body, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

type FinalizeResult struct {
	ShareURL string `json:"share_url"`
	VideoID  string `json:"video_id"`
}

func (c *Client) Finalize(ctx context.Context, token, publishID string) (*FinalizeResult, error) {
	var res FinalizeResult
	body := map[string]string{"publish_id": publishID}
	if err := c.call(ctx, "finalize", "/v2/post/publish/video/finalize/", token, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type Token struct {
	OpenID           string `json:"open_id"`
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
}

func (t *Token) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

func (t *Token) RefreshExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.RefreshExpiresIn) * time.Second)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"client_key":    {c.clientKey},
		"client_secret": {c.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/oauth/token/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiktok refresh: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Token
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		LogID            string `json:"log_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &APIError{Step: "refresh", HTTPStatus: resp.StatusCode, Code: "decode", Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" || out.AccessToken == "" {
		return nil, &APIError{Step: "refresh", HTTPStatus: resp.StatusCode, Code: out.Error, Message: out.ErrorDescription, LogID: out.LogID}
	}
	return &out.Token, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		LogID   string `json:"log_id"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, step, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", step, err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build %s request: %w", step, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tiktok %s: %w", step, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{Step: step, HTTPStatus: resp.StatusCode, Code: "decode", Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK || (env.Error.Code != "" && env.Error.Code != "ok") {
		return &APIError{Step: step, HTTPStatus: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message, LogID: env.Error.LogID}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", step, err)
		}
	}
	return nil
}
