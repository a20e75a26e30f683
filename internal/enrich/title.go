package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxlog/pkg/provider/llm"
)

var (
	// ErrEmptyTitle is returned when the model output is blank after
	// sanitising.
	ErrEmptyTitle = errors.New("enrich: empty title")

	// ErrBlankTranscript is returned when a title is requested for a blank
	// transcript.
	ErrBlankTranscript = errors.New("enrich: blank transcript")
)

const (
	// MaxTitleInput is the number of transcript characters sent to the model.
	MaxTitleInput = 500

	// MaxTitleLength bounds the stored title.
	MaxTitleLength = 20

	titleInstruction = "You name voice recordings. Read the transcript and reply with a short title of 5 to 10 characters that captures its gist. Output only the title, without quotes or any other symbols."
)

// Chat template markers understood by the local title models.
const (
	markStart     = "<|im_start|>"
	markEnd       = "<|im_end|>"
	markAssistant = markStart + "assistant"
)

// Titler turns a transcript into a short title.
type Titler interface {
	GenerateTitle(ctx context.Context, transcript string) (string, error)
}

// BuildTitlePrompt truncates transcript to [MaxTitleInput] characters and
// wraps it in the system/user/assistant chat template.
func BuildTitlePrompt(transcript string) string {
	var b strings.Builder
	b.WriteString(markStart + "system\n" + titleInstruction + "\n" + markEnd + "\n")
	b.WriteString(markStart + "user\n" + truncateRunes(transcript, MaxTitleInput) + "\n" + markEnd + "\n")
	b.WriteString(markAssistant + "\n")
	return b.String()
}

// SanitizeTitle strips template markers and quote characters from raw model
// output, trims it, and cuts it to [MaxTitleLength] characters.
func SanitizeTitle(raw string) string {
	s := strings.ReplaceAll(raw, markAssistant+"\n", "")
	for _, tok := range []string{markAssistant, markStart, markEnd, `"`} {
		s = strings.ReplaceAll(s, tok, "")
	}
	return strings.TrimSpace(truncateRunes(strings.TrimSpace(s), MaxTitleLength))
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// LLMTitler generates titles with a completion model.
type LLMTitler struct {
	llm       llm.Provider
	maxTokens int
}

// NewLLMTitler returns a Titler backed by p.
func NewLLMTitler(p llm.Provider) *LLMTitler {
	return &LLMTitler{llm: p, maxTokens: 32}
}

// GenerateTitle implements [Titler].
func (t *LLMTitler) GenerateTitle(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrBlankTranscript
	}
	req := llm.UserPrompt(BuildTitlePrompt(transcript))
	req.MaxTokens = t.maxTokens
	resp, err := t.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("enrich: generate title: %w", err)
	}
	title := SanitizeTitle(resp.Content)
	if title == "" {
		return "", ErrEmptyTitle
	}
	return title, nil
}
