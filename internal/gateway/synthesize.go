package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/protocol"
	"github.com/swagat-panda/VocalWeaver/internal/voices"
)

// SynthesisJob is one transcript to re-voice. VoiceName is the
// client-facing display name; resolution happens here.
type SynthesisJob struct {
	SessionID string
	RequestID string
	VoiceName string
	Text      string
}

// SynthesisResult carries a complete in-memory WAV container.
type SynthesisResult struct {
	Audio      []byte
	SampleRate int
}

// Synthesizer is the uniform contract sessions use for TTS.
type Synthesizer struct {
	bus      Requester
	registry *voices.Registry
	timeout  time.Duration
}

func NewSynthesizer(busClient Requester, registry *voices.Registry, cfg config.TTSConfig) *Synthesizer {
	return &Synthesizer{
		bus:      busClient,
		registry: registry,
		timeout:  time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
	}
}

func (s *Synthesizer) Synthesize(ctx context.Context, job SynthesisJob) (SynthesisResult, error) {
	desc, ok := s.registry.Lookup(job.VoiceName)
	if !ok {
		return SynthesisResult{}, fmt.Errorf("%w: %q", ErrVoiceNotFound, job.VoiceName)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := protocol.SynthesizeRequest{
		SessionID: job.SessionID,
		RequestID: job.RequestID,
		EngineID:  desc.EngineID,
		Text:      job.Text,
	}
	var reply protocol.SynthesizeReply
	if err := s.bus.RequestJSON(ctx, protocol.SubjectSynthesize, req, &reply); err != nil {
		return SynthesisResult{}, fmt.Errorf("synthesis gateway: %w", err)
	}
	if reply.Error != "" {
		return SynthesisResult{}, fmt.Errorf("synthesis engine: %s", reply.Error)
	}
	if len(reply.Audio) == 0 {
		return SynthesisResult{}, fmt.Errorf("synthesis engine returned no audio")
	}
	return SynthesisResult{Audio: reply.Audio, SampleRate: reply.SampleRate}, nil
}
