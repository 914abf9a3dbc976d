package video

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStrideFor(t *testing.T) {
	tests := []struct {
		name      string
		nativeFPS float64
		requested int
		want      int
	}{
		{name: "30 to 3", nativeFPS: 30, requested: 3, want: 10},
		{name: "29.97 to 3", nativeFPS: 29.97, requested: 3, want: 10},
		{name: "24 to 10", nativeFPS: 24, requested: 10, want: 2},
		{name: "clamped to 1", nativeFPS: 5, requested: 10, want: 1},
		{name: "zero native fps", nativeFPS: 0, requested: 3, want: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := strideFor(tc.nativeFPS, tc.requested); got != tc.want {
				t.Fatalf("strideFor(%.2f, %d) = %d, want %d", tc.nativeFPS, tc.requested, got, tc.want)
			}
		})
	}
}

func TestTimestampFor(t *testing.T) {
	if got := timestampFor(90, 30); math.Abs(got-3.0) > 1e-9 {
		t.Fatalf("timestampFor(90, 30) = %f, want 3.0", got)
	}
	if got := timestampFor(10, 0); got != 0 {
		t.Fatalf("timestampFor with zero fps = %f, want 0", got)
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [{
			"codec_name": "h264",
			"width": 1920,
			"height": 1080,
			"r_frame_rate": "30000/1001",
			"avg_frame_rate": "30000/1001",
			"nb_frames": "1800"
		}],
		"format": {"duration": "60.06"}
	}`)

	probe, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if probe.Codec != "h264" || probe.Width != 1920 || probe.Height != 1080 {
		t.Fatalf("unexpected stream fields: %+v", probe)
	}
	if math.Abs(probe.FrameRate-29.97) > 0.01 {
		t.Fatalf("frame rate = %f, want ~29.97", probe.FrameRate)
	}
	if probe.TotalFrames != 1800 {
		t.Fatalf("total frames = %d, want 1800", probe.TotalFrames)
	}
	if math.Abs(probe.Duration-60.06) > 1e-9 {
		t.Fatalf("duration = %f, want 60.06", probe.Duration)
	}
}

func TestParseProbeNoStream(t *testing.T) {
	if _, err := parseProbe([]byte(`{"streams": [], "format": {}}`)); err == nil {
		t.Fatal("expected error for missing video stream")
	}
}

func TestParseProbeDerivesFrameCount(t *testing.T) {
	data := []byte(`{
		"streams": [{"codec_name": "vp9", "width": 640, "height": 480, "avg_frame_rate": "30/1"}],
		"format": {"duration": "10.0"}
	}`)

	probe, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if probe.TotalFrames != 300 {
		t.Fatalf("derived total frames = %d, want 300", probe.TotalFrames)
	}
}

func TestDecodeFilter(t *testing.T) {
	f := decodeFilter(10)
	if !strings.Contains(f, "mod(n\\,10)") {
		t.Fatalf("filter missing stride selection: %q", f)
	}
	if !strings.Contains(f, "force_original_aspect_ratio=decrease") {
		t.Fatalf("filter missing aspect-preserving scale: %q", f)
	}
}

func TestCollectFrames(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 45; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%08d.jpg", i))
		if err := os.WriteFile(name, []byte{0xff, 0xd8, byte(i)}, 0644); err != nil {
			t.Fatalf("writing fake frame: %v", err)
		}
	}

	var progressCalls []int
	e := &Extractor{cfg: Config{
		Logger:   slog.New(slog.DiscardHandler),
		Progress: func(n int, done bool) { progressCalls = append(progressCalls, n) },
	}}

	frames, err := e.collectFrames(dir, 10, 30.0)
	if err != nil {
		t.Fatalf("collectFrames: %v", err)
	}
	if len(frames) != 45 {
		t.Fatalf("frame count = %d, want 45", len(frames))
	}

	for i, f := range frames {
		if f.Index != i {
			t.Fatalf("frame %d has index %d; indices must be contiguous from 0", i, f.Index)
		}
		if f.NativeIndex != i*10 {
			t.Fatalf("frame %d native index = %d, want %d", i, f.NativeIndex, i*10)
		}
		want := float64(i*10) / 30.0
		if math.Abs(f.Timestamp-want) > 1e-9 {
			t.Fatalf("frame %d timestamp = %f, want %f", i, f.Timestamp, want)
		}
		if f.Encoding != "image/jpeg" {
			t.Fatalf("frame %d encoding = %q", i, f.Encoding)
		}
	}

	// Every 20 frames: at 20 and 40.
	if len(progressCalls) != 2 || progressCalls[0] != 20 || progressCalls[1] != 40 {
		t.Fatalf("progress calls = %v, want [20 40]", progressCalls)
	}
}

func TestCollectFramesHonorsMaxFrames(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 10; i++ {
		name := filepath.Join(dir, fmt.Sprintf("frame_%08d.jpg", i))
		if err := os.WriteFile(name, []byte{0xff, 0xd8}, 0644); err != nil {
			t.Fatalf("writing fake frame: %v", err)
		}
	}

	e := &Extractor{cfg: Config{MaxFrames: 4, Logger: slog.New(slog.DiscardHandler)}}
	frames, err := e.collectFrames(dir, 1, 30.0)
	if err != nil {
		t.Fatalf("collectFrames: %v", err)
	}
	if len(frames) != 4 {
		t.Fatalf("frame count = %d, want 4", len(frames))
	}
}
