package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidWAV is returned when WAV data cannot be parsed.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// wavHeader is the canonical 44-byte RIFF/WAVE header for 16-bit PCM.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps interleaved 16-bit little-endian PCM in a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid format %dHz/%dch", sampleRate, channels)
	}
	const bits = 16
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bits / 8),
		BlockAlign:    uint16(channels * bits / 8),
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("audio: encode wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// WAVInfo describes the PCM payload of a WAV stream.
type WAVInfo struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// DecodeWAV parses a 16-bit PCM WAV stream and returns its info and raw PCM.
// Chunks other than "fmt " and "data" are skipped. A data chunk whose
// declared size is zero or 0xFFFFFFFF, as written by encoders streaming to a
// pipe, extends to the end of the input.
func DecodeWAV(r io.Reader) (WAVInfo, []byte, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, nil, fmt.Errorf("%w: short header: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, nil, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidWAV)
	}

	var (
		info    WAVInfo
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVInfo{}, nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 || size > maxFmtChunk {
				return WAVInfo{}, nil, fmt.Errorf("%w: fmt chunk size %d", ErrInvalidWAV, size)
			}
			body := make([]byte, paddedSize(size))
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVInfo{}, nil, fmt.Errorf("%w: fmt chunk: %v", ErrInvalidWAV, err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, used by ffmpeg for >2 channels.
			if format != 1 && format != 0xFFFE {
				return WAVInfo{}, nil, fmt.Errorf("%w: unsupported format tag %d", ErrInvalidWAV, format)
			}
			if info.BitsPerSample != 16 {
				return WAVInfo{}, nil, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, info.BitsPerSample)
			}
			if info.Channels <= 0 || info.SampleRate <= 0 {
				return WAVInfo{}, nil, fmt.Errorf("%w: bad format %dHz/%dch", ErrInvalidWAV, info.SampleRate, info.Channels)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return WAVInfo{}, nil, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			var (
				pcm []byte
				err error
			)
			// A truncated chunk keeps what arrived.
			if size == 0 || size == 0xFFFFFFFF {
				pcm, err = io.ReadAll(r)
			} else {
				pcm, err = io.ReadAll(io.LimitReader(r, int64(size)))
			}
			if err != nil {
				return WAVInfo{}, nil, fmt.Errorf("%w: data chunk: %v", ErrInvalidWAV, err)
			}
			return info, pcm, nil

		default:
			if _, err := io.CopyN(io.Discard, r, paddedSize(size)); err != nil {
				return WAVInfo{}, nil, fmt.Errorf("%w: skip %q chunk: %v", ErrInvalidWAV, id, err)
			}
		}
	}
}

// maxFmtChunk bounds the fmt chunk; WAVE_FORMAT_EXTENSIBLE needs 40 bytes.
const maxFmtChunk = 64

// paddedSize is the on-disk length of a chunk body: RIFF pads odd sizes to
// an even boundary.
func paddedSize(size uint32) int64 {
	return int64(size) + int64(size&1)
}
