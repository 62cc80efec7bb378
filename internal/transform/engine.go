// Package transform applies a brand pattern to a local media file, one
// ffmpeg pass per stage.
package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"brandclip-worker-service/internal/entity"
	"brandclip-worker-service/internal/ffmpeg"
	"brandclip-worker-service/internal/filters"
	"brandclip-worker-service/internal/narration"
	"brandclip-worker-service/internal/subtitles"
)

const (
	StageNarration = "narration"
	StageEffects   = "effects"
	StageLogo      = "logo"
	StageSubtitles = "subtitles"
)

// Media is the subset of the ffmpeg runner used for the stage passes.
type Media interface {
	ApplyChain(ctx context.Context, in, out string, chain filters.Chain, progress ffmpeg.ProgressFunc) error
	OverlayLogo(ctx context.Context, in, logoPath, out, graph string, progress ffmpeg.ProgressFunc) error
	BurnSubtitles(ctx context.Context, in, srtPath, out string, style filters.SubtitleStyle, progress ffmpeg.ProgressFunc) error
	ExtractAudio(ctx context.Context, in, out string) error
}

type Narrator interface {
	Run(ctx context.Context, req narration.Request) (*narration.Result, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) ([]subtitles.Segment, error)
}

// LogoFetcher downloads a remote logo (http(s) or s3) into dst.
type LogoFetcher interface {
	FetchToFile(ctx context.Context, url, dst string) error
}

type Engine struct {
	media    Media
	narrator Narrator
	asr      Transcriber
	logos    LogoFetcher
	tmpDir   string
	logger   *zap.Logger
}

func NewEngine(media Media, narrator Narrator, asr Transcriber, logos LogoFetcher, tmpDir string, logger *zap.Logger) *Engine {
	return &Engine{media: media, narrator: narrator, asr: asr, logos: logos, tmpDir: tmpDir, logger: logger}
}

type Options struct {
	VideoID string
	Title   string
	Spec    *entity.DesignSpec
	// Progress receives overall completion in percent across all stages.
	Progress func(percent int)
}

type Result struct {
	Path     string
	Stages   []string
	Script   string
	Captions int
}

// Changed reports whether any stage produced a new file.
func (r *Result) Changed() bool { return len(r.Stages) > 0 }

// ApplyBrandPattern runs narration, effects, logo and subtitles in that order.
// The returned path equals inputPath when no stage applied; otherwise it is a
// temp file the caller must remove.
func (e *Engine) ApplyBrandPattern(ctx context.Context, inputPath string, opts Options) (*Result, error) {
	spec := opts.Spec
	if spec == nil {
		return nil, entity.ErrMissingDesignSpec
	}
	log := e.logger.With(zap.String("video_id", opts.VideoID))

	plan := e.plan(spec)
	run := &stageRun{
		engine:  e,
		input:   inputPath,
		current: inputPath,
		videoID: opts.VideoID,
		plan:    plan,
		report:  opts.Progress,
		log:     log,
	}
	res := &Result{}

	var narrated []subtitles.Segment
	if plan[StageNarration] {
		nr, err := e.narrator.Run(ctx, narration.Request{
			VideoID:   opts.VideoID,
			InputPath: run.current,
			Title:     opts.Title,
			Settings:  spec.Narration,
			Progress:  run.progress(StageNarration),
		})
		if err != nil {
			log.Warn("narration failed, continuing without it", zap.Error(err))
		} else {
			run.advance(StageNarration, nr.VideoPath)
			narrated = nr.Segments
			res.Script = nr.Script
		}
	}

	if plan[StageEffects] {
		chain := filters.Build(spec)
		out := run.next("effects")
		err := e.media.ApplyChain(ctx, run.current, out, chain, run.progress(StageEffects))
		switch {
		case errors.Is(err, ffmpeg.ErrNothingToApply):
			log.Info("effects enabled but no stage applies to this input")
			e.remove(out)
		case err != nil:
			e.remove(out)
			return nil, run.abort(fmt.Errorf("apply effects: %w", err))
		default:
			log.Info("effects applied", zap.Strings("filters", chain.StageNames()))
			run.advance(StageEffects, out)
		}
	}

	if plan[StageLogo] {
		if err := e.applyLogo(ctx, run, spec); err != nil {
			return nil, run.abort(err)
		}
	}

	if plan[StageSubtitles] {
		n, err := e.applySubtitles(ctx, run, spec, narrated)
		if err != nil {
			return nil, run.abort(err)
		}
		res.Captions = n
	}

	res.Path = run.current
	res.Stages = run.applied
	if !res.Changed() {
		log.Error("brand pattern produced no changes, returning original input",
			zap.String("input", inputPath), zap.Any("planned", plan))
	}
	if opts.Progress != nil {
		opts.Progress(100)
	}
	return res, nil
}

func (e *Engine) plan(spec *entity.DesignSpec) map[string]bool {
	return map[string]bool{
		StageNarration: spec.Narration.Enabled && spec.Narration.VoiceID != "",
		StageEffects:   filters.ShouldApplyEffects(spec),
		StageLogo:      spec.Brand.Watermark.URL != "",
		StageSubtitles: spec.Captions.Enabled,
	}
}

func (e *Engine) applyLogo(ctx context.Context, run *stageRun, spec *entity.DesignSpec) error {
	logoPath, err := e.materializeLogo(ctx, run.stamp(), spec.Brand.Watermark.URL)
	if err != nil {
		return fmt.Errorf("load logo: %w", err)
	}
	defer e.remove(logoPath)

	out := run.next("logo")
	graph := filters.LogoOverlay(spec.Brand.Watermark, spec.SafeAreas)
	if err := e.media.OverlayLogo(ctx, run.current, logoPath, out, graph, run.progress(StageLogo)); err != nil {
		e.remove(out)
		return fmt.Errorf("overlay logo: %w", err)
	}
	run.advance(StageLogo, out)
	return nil
}

func (e *Engine) applySubtitles(ctx context.Context, run *stageRun, spec *entity.DesignSpec, segs []subtitles.Segment) (int, error) {
	if len(segs) == 0 {
		lang := spec.Captions.Language
		if lang == "" {
			lang = spec.Narration.Language
		}
		var err error
		segs, err = e.transcribe(ctx, run, lang)
		if err != nil {
			run.log.Warn("caption transcription failed, skipping burn-in", zap.Error(err))
			return 0, nil
		}
	}
	if len(segs) == 0 {
		run.log.Info("no caption segments produced, skipping burn-in")
		return 0, nil
	}

	srtPath := filepath.Join(e.tmpDir, run.stamp()+"-captions.srt")
	defer e.remove(srtPath)
	if err := subtitles.WriteFile(srtPath, segs, spec.Captions.MaxCharsPerLine); err != nil {
		run.log.Warn("caption file could not be written, skipping burn-in", zap.Error(err))
		return 0, nil
	}

	out := run.next("captions")
	if err := e.media.BurnSubtitles(ctx, run.current, srtPath, out, filters.StyleFromSpec(spec), run.progress(StageSubtitles)); err != nil {
		e.remove(out)
		return 0, fmt.Errorf("burn subtitles: %w", err)
	}
	run.advance(StageSubtitles, out)
	return len(segs), nil
}

// transcribe sends a mono audio track, not the whole video, to recognition;
// the upload limit of the speech API is far below a typical clip.
func (e *Engine) transcribe(ctx context.Context, run *stageRun, language string) ([]subtitles.Segment, error) {
	audioPath := filepath.Join(e.tmpDir, run.stamp()+"-captions.mp3")
	defer e.remove(audioPath)
	if err := e.media.ExtractAudio(ctx, run.current, audioPath); err != nil {
		return nil, fmt.Errorf("extract audio: %w", err)
	}
	return e.asr.Transcribe(ctx, audioPath, language)
}

func (e *Engine) remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("failed to remove intermediate file", zap.String("path", path), zap.Error(err))
	}
}

// stageRun tracks the evolving current file for one ApplyBrandPattern call.
type stageRun struct {
	engine  *Engine
	input   string
	current string
	videoID string
	plan    map[string]bool
	applied []string
	report  func(int)
	log     *zap.Logger
}

func (r *stageRun) stamp() string {
	return r.videoID + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

func (r *stageRun) next(stage string) string {
	return filepath.Join(r.engine.tmpDir, r.stamp()+"-"+stage+".mp4")
}

// advance moves the pointer to out and drops the superseded intermediate.
func (r *stageRun) advance(stage, out string) {
	if r.current != r.input {
		r.engine.remove(r.current)
	}
	r.current = out
	r.applied = append(r.applied, stage)
}

// abort drops the current intermediate so a failed run leaves nothing behind.
func (r *stageRun) abort(err error) error {
	if r.current != r.input {
		r.engine.remove(r.current)
	}
	return err
}

// progress maps a stage's own 0..100 onto its slice of the overall run.
func (r *stageRun) progress(stage string) ffmpeg.ProgressFunc {
	if r.report == nil {
		return nil
	}
	order := []string{StageNarration, StageEffects, StageLogo, StageSubtitles}
	var total, index int
	for _, s := range order {
		if !r.plan[s] {
			continue
		}
		if s == stage {
			index = total
		}
		total++
	}
	if total == 0 {
		return nil
	}
	width := 100.0 / float64(total)
	base := width * float64(index)
	return func(p float64) {
		r.report(int(base + width*p/100))
	}
}
