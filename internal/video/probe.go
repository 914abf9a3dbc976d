// Package video provides the frame extraction stage: ffprobe container
// metadata plus ffmpeg frame decoding at a sampled rate, producing the
// ordered Frame sequence the classifier consumes.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult holds the container metadata the extractor needs.
type ProbeResult struct {
	Duration    float64
	TotalFrames int
	FrameRate   float64
	Width       int
	Height      int
	Codec       string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (e *Extractor) probe(ctx context.Context, source string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames",
		"-show_entries", "format=duration",
		"-of", "json",
		source,
	}

	cmd := exec.CommandContext(ctx, e.ffprobe, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}

	s := out.Streams[0]
	result := &ProbeResult{
		Codec:  s.CodecName,
		Width:  s.Width,
		Height: s.Height,
	}

	result.FrameRate = parseRational(s.AvgFrameRate)
	if result.FrameRate <= 0 {
		result.FrameRate = parseRational(s.RFrameRate)
	}

	if s.NbFrames != "" {
		result.TotalFrames, _ = strconv.Atoi(s.NbFrames)
	}
	if out.Format.Duration != "" {
		result.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	}
	if result.TotalFrames == 0 && result.FrameRate > 0 {
		result.TotalFrames = int(result.Duration * result.FrameRate)
	}

	return result, nil
}

// parseRational converts ffprobe's "30000/1001" frame rate form to a float.
func parseRational(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	if !found {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
