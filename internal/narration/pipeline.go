// Package narration replaces or mixes a clip's soundtrack with a synthesized
// voice-over rewritten from the clip's own speech.
package narration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"brandclip-worker-service/internal/ai"
	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/ffmpeg"
	"brandclip-worker-service/internal/filters"
	"brandclip-worker-service/internal/subtitles"
)

var (
	ErrNoAudioStream = errors.New("source has no audio stream to narrate")
	ErrNoSpeech      = errors.New("no speech detected in source audio")
)

// minAudioBytes is the smallest extracted track worth sending to ASR.
const minAudioBytes = 1024

const (
	defaultOriginalVolume  = 20.0
	defaultNarrationVolume = 100.0
)

type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) ([]subtitles.Segment, error)
}

type ScriptWriter interface {
	RewriteScript(ctx context.Context, transcript string, opts ai.ScriptOptions) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, outPath string) error
}

// Media is the subset of the ffmpeg runner the pipeline drives.
type Media interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
	ExtractAudio(ctx context.Context, in, out string) error
	MixNarration(ctx context.Context, in, narrationPath, out string, opts filters.MixOptions, progress ffmpeg.ProgressFunc) error
}

type Pipeline struct {
	asr    Transcriber
	writer ScriptWriter
	tts    Synthesizer
	media  Media
	tmpDir string
	logger *zap.Logger
}

func NewPipeline(asr Transcriber, writer ScriptWriter, tts Synthesizer, media Media, tmpDir string, logger *zap.Logger) *Pipeline {
	return &Pipeline{asr: asr, writer: writer, tts: tts, media: media, tmpDir: tmpDir, logger: logger}
}

type Request struct {
	VideoID   string
	InputPath string
	Title     string
	Settings  entity.NarrationSettings
	Progress  ffmpeg.ProgressFunc
}

// Result holds the narrated clip and the caption timing of the new voice.
type Result struct {
	VideoPath string
	Script    string
	Segments  []subtitles.Segment
}

// Run executes the full narration flow. The returned VideoPath is a new file
// owned by the caller; every other artifact is removed before returning.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	info, err := p.media.Probe(ctx, req.InputPath)
	if err != nil {
		return nil, err
	}
	if !info.HasAudio {
		return nil, ErrNoAudioStream
	}

	stamp := req.VideoID + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	audioPath := filepath.Join(p.tmpDir, stamp+"-source.mp3")
	speechPath := filepath.Join(p.tmpDir, stamp+"-narration.mp3")
	outPath := filepath.Join(p.tmpDir, stamp+"-narrated.mp4")
	defer p.remove(audioPath)
	defer p.remove(speechPath)

	if err := p.media.ExtractAudio(ctx, req.InputPath, audioPath); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	st, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("stat extracted audio: %w", err)
	}
	if st.Size() < minAudioBytes {
		return nil, fmt.Errorf("%w: extracted audio is %d bytes", ErrNoSpeech, st.Size())
	}

	segs, err := p.asr.Transcribe(ctx, audioPath, req.Settings.Language)
	if err != nil {
		return nil, err
	}
	transcript := subtitles.JoinText(segs)
	if transcript == "" {
		return nil, ErrNoSpeech
	}
	p.logger.Info("source transcribed", zap.String("video_id", req.VideoID), zap.Int("segments", len(segs)))

	script, err := p.writer.RewriteScript(ctx, transcript, ai.ScriptOptions{
		Language: req.Settings.Language,
		Style:    req.Settings.Style,
		Title:    req.Title,
	})
	if err != nil {
		return nil, err
	}

	if err := p.tts.Synthesize(ctx, script, req.Settings.VoiceID, speechPath); err != nil {
		return nil, err
	}

	// Captions follow the synthesized voice, not the original speaker.
	voiceSegs, err := p.asr.Transcribe(ctx, speechPath, req.Settings.Language)
	if err != nil {
		p.logger.Warn("narration re-transcription failed, captions will fall back",
			zap.String("video_id", req.VideoID), zap.Error(err))
		voiceSegs = nil
	}
	voiceSegs = scaleTimings(voiceSegs, filters.ClampNarrationSpeed(deref(req.Settings.Speed, 1)))

	opts := filters.MixOptions{
		KeepOriginal:    req.Settings.KeepOriginalAudio,
		OriginalVolume:  deref(req.Settings.OriginalVolume, defaultOriginalVolume) / 100,
		NarrationVolume: deref(req.Settings.NarrationVolume, defaultNarrationVolume) / 100,
		Speed:           deref(req.Settings.Speed, 1),
	}
	if err := p.media.MixNarration(ctx, req.InputPath, speechPath, outPath, opts, req.Progress); err != nil {
		p.remove(outPath)
		return nil, fmt.Errorf("mix narration: %w", err)
	}

	return &Result{VideoPath: outPath, Script: script, Segments: voiceSegs}, nil
}

// scaleTimings maps timestamps of the unstretched voice onto the mixed track.
func scaleTimings(segs []subtitles.Segment, speed float64) []subtitles.Segment {
	if speed == 1 {
		return segs
	}
	out := make([]subtitles.Segment, len(segs))
	for i, s := range segs {
		out[i] = subtitles.Segment{
			Start: time.Duration(float64(s.Start) / speed).Round(time.Millisecond),
			End:   time.Duration(float64(s.End) / speed).Round(time.Millisecond),
			Text:  s.Text,
		}
	}
	return out
}

func (p *Pipeline) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove narration temp file", zap.String("path", path), zap.Error(err))
	}
}

func deref(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
