package stt

import (
	"context"

	"github.com/swagat-panda/VocalWeaver/internal/audio"
)

// beamSize is fixed for every engine call; it is not a tunable.
const beamSize = 5

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends. Input is one complete utterance as
// mono 16 kHz PCM; implementations must be safe for concurrent calls.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm audio.PcmBuffer) (TranscriptResult, error)
}
