package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/protocol"
)

// TranscribeJob is one utterance to turn into text.
type TranscribeJob struct {
	SessionID string
	RequestID string
	Audio     []byte
}

// TranscriptResult is the normalized transcription outcome. IsEmpty
// covers silence, unintelligible audio and undecodable blobs alike.
type TranscriptResult struct {
	Text    string
	IsEmpty bool
}

// Transcriber is the uniform contract sessions use for STT. It hides
// the bus round trip to the worker pool.
type Transcriber struct {
	bus     Requester
	timeout time.Duration
}

func NewTranscriber(busClient Requester, cfg config.STTConfig) *Transcriber {
	return &Transcriber{
		bus:     busClient,
		timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
	}
}

func (t *Transcriber) Transcribe(ctx context.Context, job TranscribeJob) (TranscriptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req := protocol.TranscribeRequest{
		SessionID: job.SessionID,
		RequestID: job.RequestID,
		Audio:     job.Audio,
	}
	var reply protocol.TranscribeReply
	if err := t.bus.RequestJSON(ctx, protocol.SubjectTranscribe, req, &reply); err != nil {
		return TranscriptResult{}, fmt.Errorf("transcription gateway: %w", err)
	}
	if reply.Error != "" {
		return TranscriptResult{}, fmt.Errorf("transcription engine: %s", reply.Error)
	}

	text := strings.TrimSpace(reply.Text)
	return TranscriptResult{Text: text, IsEmpty: text == ""}, nil
}
