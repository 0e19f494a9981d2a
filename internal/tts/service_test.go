package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/protocol"
	"github.com/swagat-panda/VocalWeaver/internal/snapshot"
	"github.com/swagat-panda/VocalWeaver/internal/voices"
)

const testEngineID = "en_US-amy-medium"

type fakeSynth struct {
	fn func(ctx context.Context, req SynthRequest, chunks chan<- SynthChunk, errs chan<- error)
}

func (f *fakeSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		f.fn(ctx, req, chunks, errs)
	}()
	return chunks, errs
}

type countingSynth struct {
	inner Synthesizer
	calls int
}

func (c *countingSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	c.calls++
	return c.inner.Synthesize(ctx, req)
}

func testRegistry(t *testing.T) *voices.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, testEngineID+".onnx"), []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, testEngineID+".onnx.json"), []byte(`{"audio":{"sample_rate":22050}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := voices.Discover(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	return reg
}

func newTestService(t *testing.T, synth Synthesizer, cacheEntries int) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snaps, err := snapshot.Open(context.Background(), config.SnapshotConfig{Enabled: false}, logger)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	cfg := config.TTSConfig{Mode: "mock", Workers: 1, RequestTimeoutMS: 5000, CacheEntries: cacheEntries}
	svc, err := NewService(context.Background(), cfg, nil, synth, testRegistry(t), snaps, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestProcessSynthesizesWAV(t *testing.T) {
	svc := newTestService(t, NewMockSynth(), 0)

	reply := svc.process(protocol.SynthesizeRequest{
		SessionID: "s1",
		RequestID: "r1",
		EngineID:  testEngineID,
		Text:      "hello world",
	})
	if reply.Error != "" {
		t.Fatalf("unexpected error: %s", reply.Error)
	}
	if reply.SampleRate != 22050 {
		t.Fatalf("sample rate = %d, want 22050", reply.SampleRate)
	}
	if len(reply.Audio) < 44 {
		t.Fatalf("suspiciously small container: %d bytes", len(reply.Audio))
	}
	if !bytes.Equal(reply.Audio[0:4], []byte("RIFF")) || !bytes.Equal(reply.Audio[8:12], []byte("WAVE")) {
		t.Fatalf("reply is not a WAV container: % x", reply.Audio[:12])
	}
}

func TestProcessUnknownEngine(t *testing.T) {
	svc := newTestService(t, NewMockSynth(), 0)

	reply := svc.process(protocol.SynthesizeRequest{EngineID: "de_DE-nobody-low", Text: "hi"})
	if !strings.Contains(reply.Error, "unknown voice engine") {
		t.Fatalf("expected unknown engine error, got %+v", reply)
	}
}

func TestProcessServesRepeatsFromCache(t *testing.T) {
	counter := &countingSynth{inner: NewMockSynth()}
	svc := newTestService(t, counter, 8)

	req := protocol.SynthesizeRequest{EngineID: testEngineID, Text: "cached phrase"}
	first := svc.process(req)
	if first.Error != "" {
		t.Fatalf("first synthesis: %s", first.Error)
	}
	second := svc.process(req)
	if second.Error != "" {
		t.Fatalf("second synthesis: %s", second.Error)
	}
	if counter.calls != 1 {
		t.Fatalf("engine invoked %d times, want 1", counter.calls)
	}
	if !bytes.Equal(first.Audio, second.Audio) || first.SampleRate != second.SampleRate {
		t.Fatal("cache returned different audio")
	}

	// A different text misses the cache.
	third := svc.process(protocol.SynthesizeRequest{EngineID: testEngineID, Text: "other phrase"})
	if third.Error != "" {
		t.Fatalf("third synthesis: %s", third.Error)
	}
	if counter.calls != 2 {
		t.Fatalf("engine invoked %d times, want 2", counter.calls)
	}
}

func TestProcessSynthesisErrorPropagates(t *testing.T) {
	synth := &fakeSynth{fn: func(_ context.Context, _ SynthRequest, _ chan<- SynthChunk, errs chan<- error) {
		errs <- errors.New("engine crashed")
	}}
	svc := newTestService(t, synth, 0)

	reply := svc.process(protocol.SynthesizeRequest{EngineID: testEngineID, Text: "hi"})
	if !strings.Contains(reply.Error, "synthesis failed") {
		t.Fatalf("expected synthesis error, got %+v", reply)
	}
}

func TestProcessEmptyAudioIsError(t *testing.T) {
	synth := &fakeSynth{fn: func(context.Context, SynthRequest, chan<- SynthChunk, chan<- error) {}}
	svc := newTestService(t, synth, 0)

	reply := svc.process(protocol.SynthesizeRequest{EngineID: testEngineID, Text: "hi"})
	if !strings.Contains(reply.Error, "no audio") {
		t.Fatalf("expected empty-audio error, got %+v", reply)
	}
}
