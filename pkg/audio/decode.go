// Package audio converts stored recordings into the PCM form speech models
// consume: mono float32 at 16 kHz.
//
// Compressed containers (.m4a and anything else ffmpeg understands) are
// decoded by an ffmpeg child process into WAV at the file's native rate and
// channel count; WAV input is read directly. Down-mixing and nearest-neighbour
// resampling then happen in-process so every decoder path yields identical
// samples.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// SpeechSampleRate is the rate speech-to-text back-ends expect.
const SpeechSampleRate = 16000

// Decoder turns an audio file into mono float32 samples at
// [SpeechSampleRate].
type Decoder interface {
	Decode(ctx context.Context, path string) ([]float32, error)
}

// FFmpegDecoder decodes files by running ffmpeg. WAV files bypass ffmpeg.
type FFmpegDecoder struct {
	// Path is the ffmpeg executable. Empty means "ffmpeg" on PATH.
	Path string
}

var _ Decoder = (*FFmpegDecoder)(nil)

// Decode implements [Decoder].
func (d *FFmpegDecoder) Decode(ctx context.Context, path string) ([]float32, error) {
	info, pcm, err := d.DecodeWAV(ctx, path)
	if err != nil {
		return nil, err
	}
	return ToSpeechInput(info, pcm, SpeechSampleRate), nil
}

// DecodeWAV returns the file's native-format PCM.
func (d *FFmpegDecoder) DecodeWAV(ctx context.Context, path string) (WAVInfo, []byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		f, err := os.Open(path)
		if err != nil {
			return WAVInfo{}, nil, fmt.Errorf("audio: open %q: %w", path, err)
		}
		defer f.Close()
		info, pcm, err := DecodeWAV(f)
		if err != nil {
			return WAVInfo{}, nil, fmt.Errorf("audio: decode %q: %w", path, err)
		}
		return info, pcm, nil
	}

	if _, err := os.Stat(path); err != nil {
		return WAVInfo{}, nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}

	bin := d.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", path,
		"-vn", "-acodec", "pcm_s16le",
		"-f", "wav", "pipe:1",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return WAVInfo{}, nil, fmt.Errorf("audio: ffmpeg decode %q: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	info, pcm, err := DecodeWAV(&stdout)
	if err != nil {
		return WAVInfo{}, nil, fmt.Errorf("audio: decode %q: %w", path, err)
	}
	return info, pcm, nil
}
