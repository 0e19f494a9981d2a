//go:build whisper

package stt

import (
	"context"
	"fmt"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/swagat-panda/VocalWeaver/internal/audio"
	"github.com/swagat-panda/VocalWeaver/internal/config"
)

type whisperRecognizer struct {
	model    whisper.Model
	language string
}

// NewWhisperRecognizer loads a ggml model and runs transcription in
// process. Each call gets its own whisper context, so concurrent worker
// calls are safe.
func NewWhisperRecognizer(cfg config.STTConfig) (Recognizer, error) {
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", cfg.ModelPath, err)
	}
	return &whisperRecognizer{model: model, language: cfg.Language}, nil
}

func (r *whisperRecognizer) Transcribe(ctx context.Context, pcm audio.PcmBuffer) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper context: %w", err)
	}
	if r.language != "" && r.model.IsMultilingual() {
		if err := wctx.SetLanguage(r.language); err != nil {
			return TranscriptResult{}, fmt.Errorf("set language: %w", err)
		}
	}
	wctx.SetBeamSize(beamSize)

	if err := wctx.Process([]float32(pcm), nil, nil, nil); err != nil {
		return TranscriptResult{}, fmt.Errorf("whisper process: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		sb.WriteString(segment.Text)
		sb.WriteString(" ")
	}
	return TranscriptResult{Text: strings.TrimSpace(sb.String())}, nil
}

func (r *whisperRecognizer) Close() error {
	return r.model.Close()
}
