package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProgressFunc receives completion percentages in [0, 100].
type ProgressFunc func(percent float64)

type Runner struct {
	ffmpegPath  string
	ffprobePath string
	logger      *zap.Logger
}

func NewRunner(ffmpegPath, ffprobePath string, logger *zap.Logger) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Runner{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}
}

// Run executes one transcoder invocation and blocks until it exits. When
// duration > 0 and progress is non-nil, progress is reported from the
// machine-readable -progress stream.
func (r *Runner) Run(ctx context.Context, args []string, duration time.Duration, progress ProgressFunc) error {
	full := append([]string{"-hide_banner", "-nostats", "-y", "-progress", "pipe:1"}, args...)
	cmd := exec.CommandContext(ctx, r.ffmpegPath, full...)

	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}

	start := time.Now()
	r.logger.Debug("ffmpeg start", zap.Strings("args", full))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	readProgress(stdout, duration, progress)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg error: %w, output: %s", err, strings.TrimSpace(stderr.String()))
	}
	r.logger.Debug("ffmpeg done", zap.Duration("elapsed", time.Since(start)))
	if progress != nil {
		progress(100)
	}
	return nil
}

func readProgress(rd io.Reader, duration time.Duration, progress ProgressFunc) {
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		if progress == nil || duration <= 0 {
			continue
		}
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok || (key != "out_time_us" && key != "out_time_ms") {
			continue
		}
		// out_time_ms is reported in microseconds as well.
		us, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil || us < 0 {
			continue
		}
		pct := float64(us) / float64(duration.Microseconds()) * 100
		if pct > 100 {
			pct = 100
		}
		progress(pct)
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
