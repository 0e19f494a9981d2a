package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/swagat-panda/VocalWeaver/internal/audio"
	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/protocol"
	"github.com/swagat-panda/VocalWeaver/internal/snapshot"
)

type errorRecognizer struct{}

func (errorRecognizer) Transcribe(context.Context, audio.PcmBuffer) (TranscriptResult, error) {
	return TranscriptResult{}, errors.New("model not loaded")
}

func newTestService(t *testing.T, recognizer Recognizer, converter string) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	decoder, err := audio.NewDecoder(config.AudioConfig{
		ConverterCommand: converter,
		ConvertTimeoutMS: 5000,
		MaxBlobBytes:     16 << 20,
	}, logger)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	snaps, err := snapshot.Open(context.Background(), config.SnapshotConfig{Enabled: false}, logger)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	cfg := config.STTConfig{Mode: "mock", Workers: 1, RequestTimeoutMS: 5000}
	return NewService(context.Background(), cfg, nil, decoder, recognizer, snaps, logger)
}

func sineWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	n := int(seconds * audio.TargetSampleRate)
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(0.4 * 32767 * math.Sin(2*math.Pi*220*float64(i)/audio.TargetSampleRate))
	}
	blob, err := audio.EncodeWAV(samples, audio.TargetSampleRate, 1, 16)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return blob
}

func TestProcessTranscribesWAV(t *testing.T) {
	svc := newTestService(t, NewMockRecognizer(), "cat")

	reply := svc.process(protocol.TranscribeRequest{
		SessionID: "s1",
		RequestID: "r1",
		Audio:     sineWAV(t, 0.5),
	})
	if reply.Error != "" {
		t.Fatalf("unexpected error: %s", reply.Error)
	}
	if !strings.HasPrefix(reply.Text, "[mock transcript") {
		t.Fatalf("unexpected transcript %q", reply.Text)
	}
}

func TestProcessDecodeFailureRepliesEmpty(t *testing.T) {
	svc := newTestService(t, NewMockRecognizer(), "false")

	cases := map[string][]byte{
		"garbage blob": []byte("not audio at all"),
		"empty blob":   nil,
	}
	for name, blob := range cases {
		reply := svc.process(protocol.TranscribeRequest{SessionID: "s1", RequestID: "r1", Audio: blob})
		if reply.Error != "" {
			t.Fatalf("%s: decode failures must not surface errors, got %q", name, reply.Error)
		}
		if reply.Text != "" {
			t.Fatalf("%s: expected empty transcript, got %q", name, reply.Text)
		}
	}
}

func TestProcessRecognizerErrorSetsError(t *testing.T) {
	svc := newTestService(t, errorRecognizer{}, "cat")

	reply := svc.process(protocol.TranscribeRequest{
		SessionID: "s1",
		RequestID: "r1",
		Audio:     sineWAV(t, 0.1),
	})
	if !strings.Contains(reply.Error, "transcription failed") {
		t.Fatalf("expected transcription error, got %+v", reply)
	}
}
