package entity

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMissingDesignSpec = errors.New("video has no frozen design spec")
	ErrInvalidDesignSpec = errors.New("invalid design spec")
)

type VideoStatus string

const (
	VideoDraft         VideoStatus = "DRAFT"
	VideoEditingQueued VideoStatus = "EDITING_QUEUED"
	VideoEditing       VideoStatus = "EDITING"
	VideoEdited        VideoStatus = "EDITED"
	VideoUploadQueued  VideoStatus = "UPLOAD_QUEUED"
	VideoUploading     VideoStatus = "UPLOADING"
	VideoPosted        VideoStatus = "POSTED"
	VideoFailedEdit    VideoStatus = "FAILED_EDIT"
	VideoFailedUpload  VideoStatus = "FAILED_UPLOAD"
)

// transitions is the full lifecycle table. The FAILED_* -> *_QUEUED edges are
// the owner's manual re-queue; workers never take them.
var transitions = map[VideoStatus][]VideoStatus{
	VideoDraft:         {VideoEditingQueued},
	VideoEditingQueued: {VideoEditing, VideoFailedEdit},
	VideoEditing:       {VideoEdited, VideoFailedEdit},
	VideoEdited:        {VideoUploadQueued},
	VideoUploadQueued:  {VideoUploading, VideoFailedUpload},
	VideoUploading:     {VideoPosted, VideoFailedUpload},
	VideoFailedEdit:    {VideoEditingQueued},
	VideoFailedUpload:  {VideoUploadQueued},
}

func (s VideoStatus) CanTransitionTo(next VideoStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Sources returns every status that may move into s.
func (s VideoStatus) Sources() []VideoStatus {
	var out []VideoStatus
	for from, tos := range transitions {
		for _, t := range tos {
			if t == s {
				out = append(out, from)
			}
		}
	}
	return out
}

func (s VideoStatus) IsFailed() bool {
	return s == VideoFailedEdit || s == VideoFailedUpload
}

// IsTerminal reports whether the owner may delete the video.
func (s VideoStatus) IsTerminal() bool {
	return s == VideoPosted || s.IsFailed()
}

// PastEdit reports whether the edit stage already produced an output.
func (s VideoStatus) PastEdit() bool {
	switch s {
	case VideoEdited, VideoUploadQueued, VideoUploading, VideoPosted, VideoFailedUpload:
		return true
	}
	return false
}

func FailedStatuses() []VideoStatus {
	return []VideoStatus{VideoFailedEdit, VideoFailedUpload}
}

type Video struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	AccountID    *uuid.UUID      `json:"account_id,omitempty"`
	Title        string          `json:"title"`
	SourceURL    string          `json:"source_url"`
	EditedURL    *string         `json:"edited_url,omitempty"`
	PostURL      *string         `json:"post_url,omitempty"`
	Status       VideoStatus     `json:"status"`
	Progress     int             `json:"progress"`
	EditSpecJSON json.RawMessage `json:"edit_spec_json,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// EditSpec decodes the design spec frozen at confirmation time. The live
// design profile is never consulted by workers.
func (v *Video) EditSpec() (*DesignSpec, error) {
	if len(v.EditSpecJSON) == 0 || string(v.EditSpecJSON) == "null" {
		return nil, ErrMissingDesignSpec
	}
	return ParseDesignSpec(v.EditSpecJSON)
}

// TransitionEvent is emitted to the owning user on every status change.
type TransitionEvent struct {
	VideoID   uuid.UUID   `json:"video_id"`
	UserID    uuid.UUID   `json:"user_id"`
	From      VideoStatus `json:"from"`
	To        VideoStatus `json:"to"`
	Progress  int         `json:"progress"`
	EditedURL string      `json:"edited_url,omitempty"`
	PostURL   string      `json:"post_url,omitempty"`
	Error     string      `json:"error,omitempty"`
	At        time.Time   `json:"at"`
}

// WebhookPayload is the body delivered by the push queue to both workers.
type WebhookPayload struct {
	VideoID  string `json:"videoId"`
	Priority *int   `json:"priority,omitempty"`
	TraceID  string `json:"traceId,omitempty"`
}
