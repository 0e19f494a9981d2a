package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/swagat-panda/VocalWeaver/internal/audio"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a deterministic recognizer for development
// and tests. Empty input yields an empty transcript.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, pcm audio.PcmBuffer) (TranscriptResult, error) {
	if len(pcm) == 0 {
		return TranscriptResult{}, nil
	}
	return TranscriptResult{
		Text:       fmt.Sprintf("[mock transcript duration=%s]", pcm.Duration().Round(10*time.Millisecond)),
		Confidence: 1,
	}, nil
}
