package ffmpeg

import (
	"fmt"
	"strconv"
)

// CaptureParams holds the capture geometry and sources shared by all chunks
type CaptureParams struct {
	FFmpegPath  string
	Display     string // X11 display, e.g. ":0.0"
	VideoSize   string // e.g. "1920x1080"
	Framerate   int
	VideoCodec  string
	Preset      string
	AudioSource string // PulseAudio source name
}

// VideoArgs builds the x11grab screen capture invocation writing to output.
func VideoArgs(p CaptureParams, output string) []string {
	args := []string{
		"-hide_banner",
		"-nostats",
		"-f", "x11grab",
		"-video_size", p.VideoSize,
		"-framerate", strconv.Itoa(p.Framerate),
		"-i", p.Display,
	}
	if p.VideoCodec != "" {
		args = append(args, "-c:v", p.VideoCodec)
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	return append(args, "-y", output)
}

// AudioArgs builds the PulseAudio capture invocation writing to output.
func AudioArgs(p CaptureParams, output string) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-f", "pulse",
		"-i", p.AudioSource,
		"-c:a", "aac",
		"-y", output,
	}
}

// TrimArgs builds the invocation that cuts [videoOffset, videoOffset+videoTime)
// from the video file and the matching audio range, muxing the picture of the
// first input with the sound of the second.
func TrimArgs(r TrimRequest) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-ss", FormatOffset(r.VideoOffsetMs),
		"-t", FormatSeconds(r.VideoTimeMs),
		"-i", r.VideoPath,
		"-ss", FormatOffset(r.AudioOffsetMs),
		"-t", FormatSeconds(r.AudioTimeMs),
		"-i", r.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-y", r.OutputPath,
	}
}

// ConcatArgs builds the concat-demuxer invocation joining the segments named
// in listPath by stream copy.
func ConcatArgs(listPath, output string) []string {
	return []string{
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y", output,
	}
}

// FormatOffset renders milliseconds as HH:MM:SS.mmm
func FormatOffset(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// FormatSeconds renders milliseconds as decimal seconds, e.g. 1500 -> "1.500"
func FormatSeconds(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
