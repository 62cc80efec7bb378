package transform_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/ffmpeg"
	"brandclip-worker-service/internal/filters"
	"brandclip-worker-service/internal/narration"
	"brandclip-worker-service/internal/subtitles"
	"brandclip-worker-service/internal/transform"
)

type fakeMedia struct {
	calls    []string
	logoSeen string
	chainErr error
	burnErr  error
	srtSeen  string
	audioIn  string
	audioOut string
	audioErr error
}

func (m *fakeMedia) copyWith(in, out, tag string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append(data, []byte("+"+tag)...), 0o644)
}

func (m *fakeMedia) ApplyChain(ctx context.Context, in, out string, chain filters.Chain, progress ffmpeg.ProgressFunc) error {
	m.calls = append(m.calls, "effects")
	if m.chainErr != nil {
		return m.chainErr
	}
	if progress != nil {
		progress(50)
	}
	return m.copyWith(in, out, "fx")
}

func (m *fakeMedia) OverlayLogo(ctx context.Context, in, logoPath, out, graph string, progress ffmpeg.ProgressFunc) error {
	m.calls = append(m.calls, "logo")
	m.logoSeen = logoPath
	if _, err := os.Stat(logoPath); err != nil {
		return err
	}
	return m.copyWith(in, out, "logo")
}

func (m *fakeMedia) BurnSubtitles(ctx context.Context, in, srtPath, out string, style filters.SubtitleStyle, progress ffmpeg.ProgressFunc) error {
	m.calls = append(m.calls, "subtitles")
	data, err := os.ReadFile(srtPath)
	if err != nil {
		return err
	}
	m.srtSeen = string(data)
	if m.burnErr != nil {
		return m.burnErr
	}
	return m.copyWith(in, out, "subs")
}

func (m *fakeMedia) ExtractAudio(ctx context.Context, in, out string) error {
	m.audioIn, m.audioOut = in, out
	if m.audioErr != nil {
		return m.audioErr
	}
	return os.WriteFile(out, []byte("mono-audio"), 0o644)
}

type fakeNarrator struct {
	dir  string
	err  error
	segs []subtitles.Segment
}

func (n *fakeNarrator) Run(ctx context.Context, req narration.Request) (*narration.Result, error) {
	if n.err != nil {
		return nil, n.err
	}
	out := filepath.Join(n.dir, req.VideoID+"-narrated.mp4")
	if err := os.WriteFile(out, []byte("narrated"), 0o644); err != nil {
		return nil, err
	}
	return &narration.Result{VideoPath: out, Script: "script", Segments: n.segs}, nil
}

type fakeASR struct {
	calls int
	segs  []subtitles.Segment
	path  string
	body  string
}

func (a *fakeASR) Transcribe(ctx context.Context, path, language string) ([]subtitles.Segment, error) {
	a.calls++
	a.path = path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a.body = string(data)
	return a.segs, nil
}

type env struct {
	engine   *transform.Engine
	media    *fakeMedia
	narrator *fakeNarrator
	asr      *fakeASR
	tmp      string
	input    string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tmp := t.TempDir()
	input := filepath.Join(t.TempDir(), "source.mp4")
	require.NoError(t, os.WriteFile(input, []byte("source"), 0o644))

	e := &env{
		media:    &fakeMedia{},
		narrator: &fakeNarrator{dir: tmp},
		asr:      &fakeASR{},
		tmp:      tmp,
		input:    input,
	}
	e.engine = transform.NewEngine(e.media, e.narrator, e.asr, nil, tmp, zap.NewNop())
	return e
}

func spec(t *testing.T, raw string) *entity.DesignSpec {
	t.Helper()
	s, err := entity.ParseDesignSpec([]byte(raw))
	require.NoError(t, err)
	return s
}

func tmpFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

const pngDataURL = "data:image/png;base64,iVBORw0KGgo="

func TestApplyBrandPattern_NeutralSpecIsNoOp(t *testing.T) {
	e := newEnv(t)
	s := spec(t, `{"effects":{"brightness":100,"contrast":100,"saturation":100,"filterType":"none","enableEffects":false}}`)

	res, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.NoError(t, err)

	assert.Equal(t, e.input, res.Path)
	assert.False(t, res.Changed())
	assert.Empty(t, e.media.calls)
}

func TestApplyBrandPattern_AllStages(t *testing.T) {
	e := newEnv(t)
	e.asr.segs = []subtitles.Segment{{Start: 0, End: time.Second, Text: "hello"}}
	s := spec(t, `{
		"effects":{"brightness":120},
		"brand":{"watermark":{"url":"`+pngDataURL+`"}},
		"captions":{"enabled":true}
	}`)

	var progress []int
	res, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{
		VideoID:  "v1",
		Spec:     s,
		Progress: func(p int) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"effects", "logo", "subtitles"}, e.media.calls)
	assert.Equal(t, []string{transform.StageEffects, transform.StageLogo, transform.StageSubtitles}, res.Stages)
	assert.Equal(t, 1, res.Captions)
	assert.Contains(t, e.media.srtSeen, "hello")

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "source+fx+logo+subs", string(data))

	// intermediates, logo and srt are gone; only the final output remains
	assert.Equal(t, []string{filepath.Base(res.Path)}, tmpFiles(t, e.tmp))
	assert.NoFileExists(t, e.media.logoSeen)
	assert.FileExists(t, e.input)

	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestApplyBrandPattern_NarrationFailureDegrades(t *testing.T) {
	e := newEnv(t)
	e.narrator.err = narration.ErrNoSpeech
	s := spec(t, `{"narration":{"enabled":true,"voiceId":"alloy"},"effects":{"enableEffects":true,"vignette":30}}`)

	res, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.NoError(t, err)

	assert.Equal(t, []string{transform.StageEffects}, res.Stages)
	assert.Empty(t, res.Script)
}

func TestApplyBrandPattern_ReusesNarrationSegments(t *testing.T) {
	e := newEnv(t)
	e.narrator.segs = []subtitles.Segment{{Start: 0, End: time.Second, Text: "new voice"}}
	s := spec(t, `{"narration":{"enabled":true,"voiceId":"alloy"},"captions":{"enabled":true}}`)

	res, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.NoError(t, err)

	assert.Zero(t, e.asr.calls)
	assert.Contains(t, e.media.srtSeen, "new voice")
	assert.Equal(t, []string{transform.StageNarration, transform.StageSubtitles}, res.Stages)
	assert.Equal(t, []string{filepath.Base(res.Path)}, tmpFiles(t, e.tmp))
}

func TestApplyBrandPattern_NoSegmentsSkipsBurnIn(t *testing.T) {
	e := newEnv(t)
	s := spec(t, `{"captions":{"enabled":true}}`)

	res, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.NoError(t, err)

	assert.Equal(t, 1, e.asr.calls)
	assert.Equal(t, e.input, res.Path)
	assert.Empty(t, e.media.calls)
}

func TestApplyBrandPattern_CaptionsTranscribeExtractedAudio(t *testing.T) {
	e := newEnv(t)
	e.asr.segs = []subtitles.Segment{{Start: 0, End: time.Second, Text: "hello"}}
	s := spec(t, `{"effects":{"brightness":120},"captions":{"enabled":true}}`)

	res, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.NoError(t, err)

	assert.Equal(t, e.media.audioOut, e.asr.path)
	assert.Equal(t, ".mp3", filepath.Ext(e.asr.path))
	assert.Equal(t, "mono-audio", e.asr.body, "recognition must receive the audio track, not the video")
	assert.NotEqual(t, e.input, e.media.audioIn, "audio comes from the current intermediate")
	assert.NoFileExists(t, e.asr.path)
	assert.Equal(t, []string{transform.StageEffects, transform.StageSubtitles}, res.Stages)
}

func TestApplyBrandPattern_AudioExtractionFailureSkipsBurnIn(t *testing.T) {
	e := newEnv(t)
	e.asr.segs = []subtitles.Segment{{Start: 0, End: time.Second, Text: "hello"}}
	e.media.audioErr = errors.New("no audio stream")
	s := spec(t, `{"captions":{"enabled":true}}`)

	res, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.NoError(t, err)

	assert.Zero(t, e.asr.calls)
	assert.Equal(t, e.input, res.Path)
	assert.Empty(t, tmpFiles(t, e.tmp))
}

func TestApplyBrandPattern_NothingToApplyKeepsPointer(t *testing.T) {
	e := newEnv(t)
	e.media.chainErr = ffmpeg.ErrNothingToApply
	s := spec(t, `{"audio":{"normalize":true}}`)

	res, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.NoError(t, err)
	assert.Equal(t, e.input, res.Path)
	assert.Empty(t, tmpFiles(t, e.tmp))
}

func TestApplyBrandPattern_BurnFailureCleansUp(t *testing.T) {
	e := newEnv(t)
	e.asr.segs = []subtitles.Segment{{End: time.Second, Text: "hi"}}
	e.media.burnErr = errors.New("libass missing")
	s := spec(t, `{"effects":{"contrast":140},"captions":{"enabled":true}}`)

	_, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.Error(t, err)
	assert.Empty(t, tmpFiles(t, e.tmp))
	assert.FileExists(t, e.input)
}

func TestApplyBrandPattern_MissingSpec(t *testing.T) {
	e := newEnv(t)
	_, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1"})
	assert.ErrorIs(t, err, entity.ErrMissingDesignSpec)
}

func TestApplyBrandPattern_BadDataURLFails(t *testing.T) {
	e := newEnv(t)
	s := spec(t, `{"brand":{"watermark":{"url":"data:image/png;base64"}}}`)

	_, err := e.engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	assert.ErrorIs(t, err, transform.ErrBadDataURL)
}

func TestApplyBrandPattern_LogoWriteFailureLeavesNothing(t *testing.T) {
	e := newEnv(t)
	// a regular file where the temp dir should be makes every write fail
	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))
	engine := transform.NewEngine(e.media, e.narrator, e.asr, nil, blocked, zap.NewNop())
	s := spec(t, `{"brand":{"watermark":{"url":"`+pngDataURL+`"}}}`)

	_, err := engine.ApplyBrandPattern(context.Background(), e.input, transform.Options{VideoID: "v1", Spec: s})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write logo")
	assert.Empty(t, e.media.calls)
	assert.FileExists(t, e.input)
}

// TestApplyBrandPattern_RealFFmpeg renders a generated clip through the real
// effects pass and checks the output differs from the source.
func TestApplyBrandPattern_RealFFmpeg(t *testing.T) {
	if testing.Short() {
		t.Skip("requires ffmpeg")
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "clip.mp4")
	gen := exec.Command(ffmpegPath, "-hide_banner", "-y",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=25:duration=2",
		"-f", "lavfi", "-i", "sine=frequency=440:duration=2",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac", "-shortest", input)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot generate test clip: %v: %s", err, strings.TrimSpace(string(out)))
	}

	logger := zap.NewNop()
	runner := ffmpeg.NewRunner(ffmpegPath, ffprobePath, logger)
	tmp := t.TempDir()
	engine := transform.NewEngine(runner, &fakeNarrator{dir: tmp}, &fakeASR{}, nil, tmp, logger)

	s := spec(t, `{"effects":{"brightness":130,"saturation":60,"vignette":40},"audio":{"volume":150}}`)
	res, err := engine.ApplyBrandPattern(context.Background(), input, transform.Options{VideoID: "real", Spec: s})
	require.NoError(t, err)
	require.True(t, res.Changed())

	src, err := os.Stat(input)
	require.NoError(t, err)
	out, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.NotEqual(t, src.Size(), out.Size())
}
