package worker_test

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/repository/postgresql"
	"brandclip-worker-service/internal/storage"
)

// memVideos mirrors the guarded updates of postgresql.VideoRepository.
type memVideos struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*entity.Video
}

func newMemVideos(vs ...*entity.Video) *memVideos {
	m := &memVideos{videos: map[uuid.UUID]*entity.Video{}}
	for _, v := range vs {
		cp := *v
		m.videos[v.ID] = &cp
	}
	return m
}

func (m *memVideos) get(id uuid.UUID) *entity.Video {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.videos[id]
	return &cp
}

func (m *memVideos) GetByID(ctx context.Context, id uuid.UUID) (*entity.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memVideos) guarded(id uuid.UUID, from []entity.VideoStatus, fn func(*entity.Video)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return false
	}
	for _, s := range from {
		if v.Status == s {
			fn(v)
			return true
		}
	}
	return false
}

func (m *memVideos) TransitionStatus(ctx context.Context, id uuid.UUID, from []entity.VideoStatus, to entity.VideoStatus) (bool, error) {
	return m.guarded(id, from, func(v *entity.Video) { v.Status, v.Progress, v.Error = to, 0, nil }), nil
}

func (m *memVideos) MarkFailed(ctx context.Context, id uuid.UUID, to entity.VideoStatus, errText string) (bool, error) {
	return m.guarded(id, to.Sources(), func(v *entity.Video) { v.Status, v.Error = to, &errText }), nil
}

func (m *memVideos) SetEdited(ctx context.Context, id uuid.UUID, url string) (bool, error) {
	return m.guarded(id, []entity.VideoStatus{entity.VideoEditing}, func(v *entity.Video) {
		v.Status, v.EditedURL, v.Progress = entity.VideoEdited, &url, 100
	}), nil
}

func (m *memVideos) SetPosted(ctx context.Context, id uuid.UUID, url string) (bool, error) {
	return m.guarded(id, []entity.VideoStatus{entity.VideoUploading}, func(v *entity.Video) {
		v.Status, v.PostURL, v.Progress = entity.VideoPosted, &url, 100
	}), nil
}

func (m *memVideos) UpdateProgress(ctx context.Context, id uuid.UUID, p int) error {
	m.guarded(id, []entity.VideoStatus{entity.VideoEditing, entity.VideoUploading}, func(v *entity.Video) { v.Progress = p })
	return nil
}

func (m *memVideos) FreezeSpec(ctx context.Context, id uuid.UUID, spec json.RawMessage) (bool, error) {
	return m.guarded(id, entity.VideoEditingQueued.Sources(), func(v *entity.Video) {
		v.Status, v.EditSpecJSON = entity.VideoEditingQueued, spec
	}), nil
}

func (m *memVideos) AssignAccount(ctx context.Context, id, accountID uuid.UUID) (bool, error) {
	return m.guarded(id, entity.VideoUploadQueued.Sources(), func(v *entity.Video) {
		v.Status, v.AccountID = entity.VideoUploadQueued, &accountID
	}), nil
}

// flakyVideos fails selected store calls with queued errors, then falls
// through to the wrapped memVideos.
type flakyVideos struct {
	*memVideos
	mu   sync.Mutex
	errs map[string][]error
}

func newFlakyVideos(m *memVideos) *flakyVideos {
	return &flakyVideos{memVideos: m, errs: map[string][]error{}}
}

func (f *flakyVideos) failNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = append(f.errs[method], err)
}

func (f *flakyVideos) pop(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.errs[method]
	if len(q) == 0 {
		return nil
	}
	f.errs[method] = q[1:]
	return q[0]
}

func (f *flakyVideos) GetByID(ctx context.Context, id uuid.UUID) (*entity.Video, error) {
	if err := f.pop("GetByID"); err != nil {
		return nil, err
	}
	return f.memVideos.GetByID(ctx, id)
}

func (f *flakyVideos) TransitionStatus(ctx context.Context, id uuid.UUID, from []entity.VideoStatus, to entity.VideoStatus) (bool, error) {
	if err := f.pop("TransitionStatus"); err != nil {
		return false, err
	}
	return f.memVideos.TransitionStatus(ctx, id, from, to)
}

func (f *flakyVideos) MarkFailed(ctx context.Context, id uuid.UUID, to entity.VideoStatus, errText string) (bool, error) {
	if err := f.pop("MarkFailed"); err != nil {
		return false, err
	}
	return f.memVideos.MarkFailed(ctx, id, to, errText)
}

func (f *flakyVideos) SetEdited(ctx context.Context, id uuid.UUID, url string) (bool, error) {
	if err := f.pop("SetEdited"); err != nil {
		return false, err
	}
	return f.memVideos.SetEdited(ctx, id, url)
}

func (f *flakyVideos) SetPosted(ctx context.Context, id uuid.UUID, url string) (bool, error) {
	if err := f.pop("SetPosted"); err != nil {
		return false, err
	}
	return f.memVideos.SetPosted(ctx, id, url)
}

type jobRow struct {
	typ    entity.JobType
	status entity.JobStatus
	text   string
}

type fakeJobs struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*jobRow
}

func newFakeJobs() *fakeJobs { return &fakeJobs{rows: map[uuid.UUID]*jobRow{}} }

func (j *fakeJobs) Create(ctx context.Context, videoID uuid.UUID, typ entity.JobType) (uuid.UUID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	id := uuid.New()
	j.rows[id] = &jobRow{typ: typ, status: entity.JobStatusRunning}
	return id, nil
}

func (j *fakeJobs) SetResultDone(ctx context.Context, id uuid.UUID, text string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows[id].status, j.rows[id].text = entity.JobStatusSucceeded, text
	return nil
}

func (j *fakeJobs) SetResultError(ctx context.Context, id uuid.UUID, text string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rows[id].status, j.rows[id].text = entity.JobStatusFailed, text
	return nil
}

func (j *fakeJobs) statuses() []entity.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []entity.JobStatus
	for _, r := range j.rows {
		out = append(out, r.status)
	}
	return out
}

// fakeObjects serves every URL with the same bytes and records uploads.
type fakeObjects struct {
	mu       sync.Mutex
	content  []byte
	uploads  map[string]int64
	fetchErr error
}

func newFakeObjects(content []byte) *fakeObjects {
	return &fakeObjects{content: content, uploads: map[string]int64{}}
}

func (o *fakeObjects) FetchToFile(ctx context.Context, rawURL, dst string) error {
	if o.fetchErr != nil {
		return o.fetchErr
	}
	return os.WriteFile(dst, o.content, 0o644)
}

func (o *fakeObjects) Upload(ctx context.Context, prefix storage.Prefix, localPath, contentType string) (string, error) {
	st, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}
	key := storage.NewObjectKey(prefix, localPath, time.Now())
	o.mu.Lock()
	o.uploads[key] = st.Size()
	o.mu.Unlock()
	return key, nil
}

func (o *fakeObjects) URLFor(key string) string { return "s3://brandclip/" + key }

func (o *fakeObjects) uploadedSizes() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []int64
	for _, n := range o.uploads {
		out = append(out, n)
	}
	return out
}
