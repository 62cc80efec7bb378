package narration_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/ai"
	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/ffmpeg"
	"brandclip-worker-service/internal/filters"
	"brandclip-worker-service/internal/narration"
	"brandclip-worker-service/internal/subtitles"
)

type fakeMedia struct {
	hasAudio   bool
	audioBytes int
	mixed      *filters.MixOptions
	mixErr     error
}

func (m *fakeMedia) Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error) {
	return &ffmpeg.MediaInfo{HasVideo: true, HasAudio: m.hasAudio, Duration: 2 * time.Second}, nil
}

func (m *fakeMedia) ExtractAudio(ctx context.Context, in, out string) error {
	return os.WriteFile(out, make([]byte, m.audioBytes), 0o644)
}

func (m *fakeMedia) MixNarration(ctx context.Context, in, narrationPath, out string, opts filters.MixOptions, progress ffmpeg.ProgressFunc) error {
	m.mixed = &opts
	if m.mixErr != nil {
		return m.mixErr
	}
	return os.WriteFile(out, []byte("narrated"), 0o644)
}

type fakeAI struct {
	calls    []string
	segments []subtitles.Segment
	script   string
}

func (f *fakeAI) Transcribe(ctx context.Context, path, language string) ([]subtitles.Segment, error) {
	f.calls = append(f.calls, "transcribe:"+path)
	return f.segments, nil
}

func (f *fakeAI) RewriteScript(ctx context.Context, transcript string, opts ai.ScriptOptions) (string, error) {
	f.calls = append(f.calls, "rewrite:"+transcript)
	return f.script, nil
}

func (f *fakeAI) Synthesize(ctx context.Context, text, voiceID, outPath string) error {
	f.calls = append(f.calls, "synthesize:"+voiceID)
	return os.WriteFile(outPath, []byte("voice"), 0o644)
}

func newPipeline(t *testing.T, media *fakeMedia, fa *fakeAI) (*narration.Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	return narration.NewPipeline(fa, fa, fa, media, dir, zap.NewNop()), dir
}

func TestPipeline_Run(t *testing.T) {
	media := &fakeMedia{hasAudio: true, audioBytes: 4096}
	fa := &fakeAI{
		segments: []subtitles.Segment{
			{Start: 0, End: time.Second, Text: "hello"},
			{Start: time.Second, End: 2 * time.Second, Text: "world"},
		},
		script: "Hi there",
	}
	p, dir := newPipeline(t, media, fa)

	res, err := p.Run(context.Background(), narration.Request{
		VideoID:   "v1",
		InputPath: "/in.mp4",
		Settings:  entity.NarrationSettings{Enabled: true, VoiceID: "alloy", Language: "en", Style: "engaging", KeepOriginalAudio: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi there", res.Script)
	assert.Len(t, res.Segments, 2)
	assert.FileExists(t, res.VideoPath)

	require.Len(t, fa.calls, 4)
	assert.Equal(t, "rewrite:hello world", fa.calls[1])
	assert.Equal(t, "synthesize:alloy", fa.calls[2])
	assert.Contains(t, fa.calls[3], "-narration.mp3")

	require.NotNil(t, media.mixed)
	assert.True(t, media.mixed.KeepOriginal)
	assert.InDelta(t, 0.2, media.mixed.OriginalVolume, 1e-9)
	assert.InDelta(t, 1.0, media.mixed.NarrationVolume, 1e-9)

	// only the narrated output survives
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPipeline_NoAudioStream(t *testing.T) {
	p, _ := newPipeline(t, &fakeMedia{hasAudio: false}, &fakeAI{})

	_, err := p.Run(context.Background(), narration.Request{VideoID: "v1", InputPath: "/in.mp4"})
	assert.ErrorIs(t, err, narration.ErrNoAudioStream)
}

func TestPipeline_TinyAudioIsNoSpeech(t *testing.T) {
	fa := &fakeAI{}
	p, _ := newPipeline(t, &fakeMedia{hasAudio: true, audioBytes: 200}, fa)

	_, err := p.Run(context.Background(), narration.Request{VideoID: "v1", InputPath: "/in.mp4"})
	assert.ErrorIs(t, err, narration.ErrNoSpeech)
	assert.Empty(t, fa.calls)
}

func TestPipeline_EmptyTranscriptIsNoSpeech(t *testing.T) {
	p, _ := newPipeline(t, &fakeMedia{hasAudio: true, audioBytes: 4096}, &fakeAI{})

	_, err := p.Run(context.Background(), narration.Request{VideoID: "v1", InputPath: "/in.mp4"})
	assert.ErrorIs(t, err, narration.ErrNoSpeech)
}

func TestPipeline_MixFailureLeavesNoFiles(t *testing.T) {
	media := &fakeMedia{hasAudio: true, audioBytes: 4096, mixErr: errors.New("boom")}
	fa := &fakeAI{segments: []subtitles.Segment{{End: time.Second, Text: "hi"}}, script: "x"}
	p, dir := newPipeline(t, media, fa)

	_, err := p.Run(context.Background(), narration.Request{VideoID: "v1", InputPath: "/in.mp4"})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPipeline_SpeedScalesCaptionTiming(t *testing.T) {
	speed := 2.0
	media := &fakeMedia{hasAudio: true, audioBytes: 4096}
	fa := &fakeAI{segments: []subtitles.Segment{{Start: 2 * time.Second, End: 4 * time.Second, Text: "hi"}}, script: "x"}
	p, _ := newPipeline(t, media, fa)

	res, err := p.Run(context.Background(), narration.Request{
		VideoID:   "v1",
		InputPath: "/in.mp4",
		Settings:  entity.NarrationSettings{VoiceID: "alloy", Speed: &speed},
	})
	require.NoError(t, err)
	assert.Equal(t, time.Second, res.Segments[0].Start)
	assert.Equal(t, 2*time.Second, res.Segments[0].End)
}
