package ffmpeg

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"brandclip-worker-service/internal/filters"
)

// ErrNothingToApply is returned when a chain has no stage applicable to the
// input, e.g. audio-only stages on a silent clip.
var ErrNothingToApply = errors.New("no applicable filter stages")

var videoEncode = []string{"-c:v", "libx264", "-preset", "veryfast", "-crf", "20", "-pix_fmt", "yuv420p"}

var audioEncode = []string{"-c:a", "aac", "-b:a", "192k"}

// ApplyChain runs the effects pass as a single filter_complex graph.
func (r *Runner) ApplyChain(ctx context.Context, in, out string, chain filters.Chain, progress ProgressFunc) error {
	info, err := r.Probe(ctx, in)
	if err != nil {
		return err
	}
	graph := chain.ComplexGraph(info.HasAudio)
	if graph == "" {
		return ErrNothingToApply
	}

	args := []string{"-i", in, "-filter_complex", graph}
	if len(chain.Video) > 0 {
		args = append(args, "-map", "[v]")
		args = append(args, videoEncode...)
	} else {
		args = append(args, "-map", "0:v:0", "-c:v", "copy")
	}
	if info.HasAudio {
		if len(chain.Audio) > 0 {
			args = append(args, "-map", "[a]")
			args = append(args, audioEncode...)
		} else {
			args = append(args, "-map", "0:a:0", "-c:a", "copy")
		}
	}
	args = append(args, "-movflags", "+faststart", out)

	r.logger.Info("applying filter chain", zap.Strings("stages", chain.StageNames()))
	return r.Run(ctx, args, info.Duration, progress)
}

// OverlayLogo composites logoPath over the video with the given graph from
// filters.LogoOverlay.
func (r *Runner) OverlayLogo(ctx context.Context, in, logoPath, out, graph string, progress ProgressFunc) error {
	info, err := r.Probe(ctx, in)
	if err != nil {
		return err
	}
	args := []string{"-i", in, "-i", logoPath, "-filter_complex", graph, "-map", "[v]"}
	args = append(args, videoEncode...)
	if info.HasAudio {
		args = append(args, "-map", "0:a:0", "-c:a", "copy")
	}
	args = append(args, "-movflags", "+faststart", out)
	return r.Run(ctx, args, info.Duration, progress)
}

// BurnSubtitles renders the subtitle file into the frame.
func (r *Runner) BurnSubtitles(ctx context.Context, in, srtPath, out string, style filters.SubtitleStyle, progress ProgressFunc) error {
	info, err := r.Probe(ctx, in)
	if err != nil {
		return err
	}
	args := []string{"-i", in, "-vf", filters.SubtitleBurn(srtPath, style)}
	args = append(args, videoEncode...)
	if info.HasAudio {
		args = append(args, "-c:a", "copy")
	}
	args = append(args, "-movflags", "+faststart", out)
	return r.Run(ctx, args, info.Duration, progress)
}

// ExtractAudio writes a mono, boosted mp3 suitable for speech recognition.
func (r *Runner) ExtractAudio(ctx context.Context, in, out string) error {
	args := []string{
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-af", "highpass=f=80,volume=1.5",
		"-c:a", "libmp3lame", "-b:a", "64k",
		out,
	}
	return r.Run(ctx, args, 0, nil)
}

// MixNarration replaces or mixes the audio track with narrationPath. The
// video stream is copied, only audio is re-encoded.
func (r *Runner) MixNarration(ctx context.Context, in, narrationPath, out string, opts filters.MixOptions, progress ProgressFunc) error {
	info, err := r.Probe(ctx, in)
	if err != nil {
		return err
	}
	args := []string{
		"-i", in,
		"-i", narrationPath,
		"-filter_complex", filters.NarrationMix(opts),
		"-map", "0:v:0",
		"-map", "[aout]",
		"-c:v", "copy",
	}
	args = append(args, audioEncode...)
	args = append(args, "-movflags", "+faststart", out)
	return r.Run(ctx, args, info.Duration, progress)
}
