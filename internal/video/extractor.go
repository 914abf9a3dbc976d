package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/afschowdhury/excavator-video-analyzer/internal/analysis"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	// Longest side of an extracted frame, model-friendly bound.
	maxFrameSide = 1024

	// Progress is reported every N extracted frames.
	progressInterval = 20

	stageName = "frame_extractor"
)

// Config holds the extractor's configuration.
type Config struct {
	FFmpegPath  string // path to ffmpeg binary; empty = auto-detect
	FFprobePath string // path to ffprobe binary; empty = auto-detect
	FPS         int    // requested sampling rate
	MaxFrames   int    // 0 = unbounded
	WorkDir     string // scratch dir for decoded frames; empty = os.TempDir
	Logger      *slog.Logger
	Progress    func(extracted int, done bool)
}

// Extractor decodes a video into an ordered, bounded sequence of frames.
type Extractor struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewExtractor creates an Extractor, resolving the ffmpeg and ffprobe
// binaries up front.
func NewExtractor(cfg Config) (*Extractor, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	cfg.Logger.Info("frame extractor initialised",
		"ffmpeg", ffmpeg,
		"fps", cfg.FPS,
		"max_frames", cfg.MaxFrames,
	)

	return &Extractor{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

// Extract decodes source at the configured sampling rate and returns the
// ordered frame sequence plus the probed container metadata.
func (e *Extractor) Extract(ctx context.Context, source string) ([]analysis.Frame, *ProbeResult, error) {
	sourceID := analysis.SourceID(source)

	if !isURL(source) {
		if _, err := os.Stat(source); err != nil {
			return nil, nil, analysis.NewError(analysis.KindSourceUnavailable, stageName, sourceID, err)
		}
	}

	probe, err := e.probe(ctx, source)
	if err != nil {
		return nil, nil, analysis.NewError(analysis.KindSourceUnavailable, stageName, sourceID, err)
	}

	stride := strideFor(probe.FrameRate, e.cfg.FPS)
	e.cfg.Logger.Info("video probed",
		"duration_s", probe.Duration,
		"native_fps", probe.FrameRate,
		"total_frames", probe.TotalFrames,
		"stride", stride,
	)

	frameDir, err := os.MkdirTemp(e.cfg.WorkDir, "frames-")
	if err != nil {
		return nil, nil, analysis.NewError(analysis.KindInternal, stageName, sourceID, err)
	}
	defer os.RemoveAll(frameDir)

	if err := e.decode(ctx, source, frameDir, stride); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, nil, analysis.NewError(analysis.KindCancelled, stageName, sourceID, ctx.Err())
		}
		return nil, nil, analysis.NewError(analysis.KindDecodeFailed, stageName, sourceID, err)
	}

	frames, err := e.collectFrames(frameDir, stride, probe.FrameRate)
	if err != nil {
		return nil, nil, analysis.NewError(analysis.KindDecodeFailed, stageName, sourceID, err)
	}
	if len(frames) == 0 {
		return nil, nil, analysis.NewError(analysis.KindNoFramesExtracted, stageName, sourceID,
			fmt.Errorf("no frames extracted from %s", filepath.Base(source)))
	}

	if e.cfg.Progress != nil {
		e.cfg.Progress(len(frames), true)
	}
	e.cfg.Logger.Info("frame extraction complete", "frames", len(frames))

	return frames, probe, nil
}

// decode runs ffmpeg, sampling every stride-th frame, bounding the longest
// side to maxFrameSide, and writing numbered JPEGs into outDir. Corrupt
// frames are discarded by the decoder rather than aborting the run.
func (e *Extractor) decode(ctx context.Context, source, outDir string, stride int) error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-fflags", "+discardcorrupt",
		"-i", source,
		"-vf", decodeFilter(stride),
		"-vsync", "vfr",
		"-q:v", "2",
	}
	if e.cfg.MaxFrames > 0 {
		args = append(args, "-frames:v", fmt.Sprintf("%d", e.cfg.MaxFrames))
	}
	args = append(args, filepath.Join(outDir, "frame_%08d.jpg"))

	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg exited: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// decodeFilter builds the ffmpeg filter chain: stride sampling plus an
// aspect-preserving downscale that never upscales.
func decodeFilter(stride int) string {
	return fmt.Sprintf(
		"select='not(mod(n\\,%d))',scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease",
		stride, maxFrameSide, maxFrameSide)
}

// collectFrames reads the decoded JPEGs in order and assembles Frame
// records with native-index timestamps.
func (e *Extractor) collectFrames(dir string, stride int, nativeFPS float64) ([]analysis.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot read frame dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jpg") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	frames := make([]analysis.Frame, 0, len(names))
	for i, name := range names {
		if e.cfg.MaxFrames > 0 && len(frames) >= e.cfg.MaxFrames {
			break
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("cannot read frame %s: %w", name, err)
		}

		nativeIndex := i * stride
		frames = append(frames, analysis.Frame{
			Index:       i,
			NativeIndex: nativeIndex,
			Timestamp:   timestampFor(nativeIndex, nativeFPS),
			Image:       data,
			Encoding:    "image/jpeg",
		})

		if e.cfg.Progress != nil && len(frames)%progressInterval == 0 {
			e.cfg.Progress(len(frames), false)
		}
	}

	return frames, nil
}

// strideFor computes how many native frames to skip between samples,
// clamped to at least 1.
func strideFor(nativeFPS float64, requestedFPS int) int {
	if nativeFPS <= 0 || requestedFPS <= 0 {
		return 1
	}
	stride := int(math.Round(nativeFPS / float64(requestedFPS)))
	if stride < 1 {
		return 1
	}
	return stride
}

func timestampFor(nativeIndex int, nativeFPS float64) float64 {
	if nativeFPS <= 0 {
		return 0
	}
	return float64(nativeIndex) / nativeFPS
}

func isURL(source string) bool {
	u, err := url.Parse(source)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no %s binary found on PATH", name)
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
