package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/voxlog/pkg/provider/stt"
	"github.com/MrWong99/voxlog/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNativeTranscribe_Silence(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t),
		whisper.WithNativeLanguage("en"),
		whisper.WithNativeDecoder(&fakeDecoder{samples: make([]float32, 16000)}),
	)
	if err != nil {
		t.Fatalf("NewNative() error: %v", err)
	}
	defer p.Close()

	// Silence yields either nothing or a hallucinated filler word.
	if _, err := p.Transcribe(context.Background(), "silence.wav"); err != nil && !errors.Is(err, stt.ErrEmptyTranscript) {
		t.Fatalf("Transcribe() error: %v", err)
	}
}
