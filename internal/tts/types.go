package tts

import (
	"context"

	"github.com/swagat-panda/VocalWeaver/internal/voices"
)

// SynthRequest contains parameters to synthesize one utterance.
type SynthRequest struct {
	SessionID string
	RequestID string
	Text      string
	Voice     *voices.Descriptor
}

// SynthChunk contains raw s16le mono PCM at the voice's sample rate.
type SynthChunk struct {
	Sequence int
	PCM      []byte
	Final    bool
}

// Synthesizer is the contract for producing audio. Chunks arrive in
// order; both channels close when the engine is done.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
