// Package mediatool wraps the external ffmpeg/ffprobe binaries the
// media pipeline depends on for frame extraction and stream probing.
//
// The command-line contract (ffprobe JSON stream/format query; ffmpeg
// raw 9x8 grayscale frame extraction at a given timestamp) matches
// original_source/src/filesieve/media.py's _probe_media and
// _extract_gray_frame exactly, since those flags constrain the exact
// byte layout dhash_from_pixels downstream expects. The ffprobe JSON
// decoding follows the teacher's getVideoCreationDate/VideoExtractor
// pattern of exec.Command plus encoding/json rather than a third-party
// wrapper, since no example repo in the pack imports one.
package mediatool

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// FrameWidth and FrameHeight are the fixed dimensions every extracted
// frame is scaled to before hashing.
const (
	FrameWidth  = 9
	FrameHeight = 8
	FramePixels = FrameWidth * FrameHeight
)

// Tools holds resolved paths to the ffmpeg and ffprobe binaries.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

// Resolve finds the ffmpeg/ffprobe binaries to use: an explicit path is
// tried as a PATH lookup, then as a literal file path. The default
// binary name is looked up on PATH only when no explicit path is given;
// an explicit path that resolves neither way leaves that tool empty.
func Resolve(ffmpegPath, ffprobePath string) Tools {
	return Tools{
		FFmpeg:  resolveBinary(ffmpegPath, "ffmpeg"),
		FFprobe: resolveBinary(ffprobePath, "ffprobe"),
	}
}

func resolveBinary(explicit, defaultName string) string {
	if explicit != "" {
		if resolved, err := exec.LookPath(explicit); err == nil {
			return resolved
		}
		if abs, err := filepathAbsIfFile(explicit); err == nil {
			return abs
		}
		return ""
	}
	resolved, err := exec.LookPath(defaultName)
	if err != nil {
		return ""
	}
	return resolved
}

// Available reports whether both binaries resolved successfully.
func (t Tools) Available() bool {
	return t.FFmpeg != "" && t.FFprobe != ""
}

// ProbeResult is the subset of ffprobe's stream/format output the
// media pipeline needs.
type ProbeResult struct {
	Width    int
	Height   int
	Duration float64
}

type ffprobeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe against path and extracts the primary video
// stream's width/height plus the container duration.
func (t Tools) Probe(path string) (ProbeResult, error) {
	cmd := exec.Command(t.FFprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = "ffprobe failed"
		}
		return ProbeResult{}, fmt.Errorf("mediatool: probe %s: %s", path, msg)
	}

	var parsed ffprobeOutput
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
			return ProbeResult{}, fmt.Errorf("mediatool: parse probe output: %w", err)
		}
	}

	result := ProbeResult{}
	if len(parsed.Streams) > 0 {
		result.Width = parsed.Streams[0].Width
		result.Height = parsed.Streams[0].Height
	}
	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			result.Duration = d
		}
	}
	if result.Duration < 0 {
		result.Duration = 0
	}
	return result, nil
}

// ExtractGrayFrame asks ffmpeg for a single frame at timestamp seconds,
// scaled to FrameWidth x FrameHeight and converted to raw 8-bit
// grayscale, returning exactly FramePixels bytes.
func (t Tools) ExtractGrayFrame(path string, timestamp float64) ([]byte, error) {
	cmd := exec.Command(t.FFmpeg,
		"-v", "error",
		"-ss", fmt.Sprintf("%.3f", timestamp),
		"-i", path,
		"-vf", fmt.Sprintf("scale=%d:%d:flags=area,format=gray", FrameWidth, FrameHeight),
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if msg == "" {
			msg = "ffmpeg failed"
		}
		return nil, fmt.Errorf("mediatool: extract frame %s@%.3f: %s", path, timestamp, msg)
	}
	if stdout.Len() < FramePixels {
		return nil, fmt.Errorf("mediatool: ffmpeg returned %d bytes, want at least %d", stdout.Len(), FramePixels)
	}
	return stdout.Bytes()[:FramePixels], nil
}
