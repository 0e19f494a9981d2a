package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/gateway"
	"github.com/swagat-panda/VocalWeaver/internal/protocol"
	"github.com/swagat-panda/VocalWeaver/internal/voices"
)

const testVoice = "Amy (US, medium)"

type fakeTranscriber struct {
	fn func(gateway.TranscribeJob) (gateway.TranscriptResult, error)
}

func (f *fakeTranscriber) Transcribe(_ context.Context, job gateway.TranscribeJob) (gateway.TranscriptResult, error) {
	return f.fn(job)
}

type fakeSynthesizer struct {
	fn func(gateway.SynthesisJob) (gateway.SynthesisResult, error)
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, job gateway.SynthesisJob) (gateway.SynthesisResult, error) {
	return f.fn(job)
}

func echoTranscriber() *fakeTranscriber {
	return &fakeTranscriber{fn: func(job gateway.TranscribeJob) (gateway.TranscriptResult, error) {
		return gateway.TranscriptResult{Text: string(job.Audio)}, nil
	}}
}

func wavSynthesizer() *fakeSynthesizer {
	return &fakeSynthesizer{fn: func(job gateway.SynthesisJob) (gateway.SynthesisResult, error) {
		return gateway.SynthesisResult{Audio: []byte("wav:" + job.Text), SampleRate: 22050}, nil
	}}
}

func testRegistry(t *testing.T) *voices.Registry {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "en_US-amy-medium.onnx"), []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "en_US-amy-medium.onnx.json"), []byte(`{"audio":{"sample_rate":22050}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := voices.Discover(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	return reg
}

func newTestHandler(t *testing.T, stt Transcriber, tts Synthesizer, queueDepth int) *Handler {
	t.Helper()
	cfg := config.SessionConfig{
		QueueDepth:     queueDepth,
		WriteTimeoutMS: 2000,
		ReadLimitBytes: 1 << 20,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(cfg, testRegistry(t), stt, tts, logger)
}

func dialSession(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// frame is the union of every server message shape, for test decoding.
type frame struct {
	Type    string          `json:"type"`
	Message string          `json:"message,omitempty"`
	Text    string          `json:"text,omitempty"`
	Data    []string        `json:"data,omitempty"`
	Audio   json.RawMessage `json:"audio,omitempty"`
}

func readFrameErr(conn *websocket.Conn) (frame, error) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return frame{}, err
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return frame{}, fmt.Errorf("decode frame %s: %w", msg, err)
	}
	return f, nil
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	f, err := readFrameErr(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func expectStatus(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Type != protocol.TypeStatus || f.Message != message {
		t.Fatalf("expected status %q, got %+v", message, f)
	}
}

func sendRequest(t *testing.T, conn *websocket.Conn, voice string, audio []byte) {
	t.Helper()
	req := map[string]any{"voice": voice, "audio": base64.StdEncoding.EncodeToString(audio)}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("send request: %v", err)
	}
}

func decodeAudio(t *testing.T, raw json.RawMessage) []byte {
	t.Helper()
	var b []byte
	if err := json.Unmarshal(raw, &b); err != nil {
		t.Fatalf("decode audio %s: %v", raw, err)
	}
	return b
}

func TestSessionSendsCatalogFirst(t *testing.T) {
	h := newTestHandler(t, echoTranscriber(), wavSynthesizer(), 4)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	// Every connection gets the same catalog, reconnects included.
	for attempt := 0; attempt < 2; attempt++ {
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial %d: %v", attempt, err)
		}
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		f, err := readFrameErr(conn)
		if err != nil {
			t.Fatalf("dial %d: read: %v", attempt, err)
		}
		if f.Type != protocol.TypeVoices {
			t.Fatalf("dial %d: expected voices frame first, got %+v", attempt, f)
		}
		if len(f.Data) != 1 || f.Data[0] != testVoice {
			t.Fatalf("dial %d: unexpected catalog %v", attempt, f.Data)
		}
		conn.Close()
	}
}

func TestSessionVoiceChangeFlow(t *testing.T) {
	conn := dialSession(t, newTestHandler(t, echoTranscriber(), wavSynthesizer(), 4))
	readFrame(t, conn) // catalog

	for i := 0; i < 2; i++ {
		payload := []byte(fmt.Sprintf("utterance %d", i))
		sendRequest(t, conn, testVoice, payload)

		expectStatus(t, conn, protocol.StatusTranscribing)
		expectStatus(t, conn, protocol.StatusSynthesizing)

		f := readFrame(t, conn)
		if f.Type != protocol.TypeResult {
			t.Fatalf("expected result, got %+v", f)
		}
		if f.Text != string(payload) {
			t.Fatalf("result text = %q, want %q", f.Text, payload)
		}
		if got := decodeAudio(t, f.Audio); string(got) != "wav:"+string(payload) {
			t.Fatalf("result audio = %q", got)
		}
	}
}

func TestSessionNoSpeechResult(t *testing.T) {
	stt := &fakeTranscriber{fn: func(gateway.TranscribeJob) (gateway.TranscriptResult, error) {
		return gateway.TranscriptResult{IsEmpty: true}, nil
	}}
	conn := dialSession(t, newTestHandler(t, stt, wavSynthesizer(), 4))
	readFrame(t, conn) // catalog

	sendRequest(t, conn, testVoice, []byte("silence"))
	expectStatus(t, conn, protocol.StatusTranscribing)

	f := readFrame(t, conn)
	if f.Type != protocol.TypeResult || f.Text != protocol.NoSpeechText {
		t.Fatalf("expected no-speech result, got %+v", f)
	}
	if string(f.Audio) != "null" {
		t.Fatalf("expected null audio, got %s", f.Audio)
	}

	// The session stays usable after an empty transcript.
	sendRequest(t, conn, testVoice, []byte("again"))
	expectStatus(t, conn, protocol.StatusTranscribing)
}

func TestSessionUnknownVoiceKeepsSessionOpen(t *testing.T) {
	tts := &fakeSynthesizer{fn: func(job gateway.SynthesisJob) (gateway.SynthesisResult, error) {
		if job.VoiceName != testVoice {
			return gateway.SynthesisResult{}, fmt.Errorf("%w: %q", gateway.ErrVoiceNotFound, job.VoiceName)
		}
		return gateway.SynthesisResult{Audio: []byte("wav"), SampleRate: 22050}, nil
	}}
	conn := dialSession(t, newTestHandler(t, echoTranscriber(), tts, 4))
	readFrame(t, conn) // catalog

	sendRequest(t, conn, "Nobody (XX, high)", []byte("hello"))
	expectStatus(t, conn, protocol.StatusTranscribing)
	expectStatus(t, conn, protocol.StatusSynthesizing)

	f := readFrame(t, conn)
	if f.Type != protocol.TypeError || f.Message != protocol.VoiceNotFoundText {
		t.Fatalf("expected voice-not-found error, got %+v", f)
	}

	// A valid voice still works on the same connection.
	sendRequest(t, conn, testVoice, []byte("hello"))
	expectStatus(t, conn, protocol.StatusTranscribing)
	expectStatus(t, conn, protocol.StatusSynthesizing)
	if f := readFrame(t, conn); f.Type != protocol.TypeResult {
		t.Fatalf("expected result after recovery, got %+v", f)
	}
}

func TestSessionDropsMalformedRequests(t *testing.T) {
	conn := dialSession(t, newTestHandler(t, echoTranscriber(), wavSynthesizer(), 4))
	readFrame(t, conn) // catalog

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]any{"voice": testVoice}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]any{"voice": "", "audio": "aGk="}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]any{"voice": testVoice, "audio": "!!not-base64!!"}); err != nil {
		t.Fatal(err)
	}

	// None of the above produce a reply; the next frame belongs to the
	// first well-formed request.
	sendRequest(t, conn, testVoice, []byte("valid"))
	expectStatus(t, conn, protocol.StatusTranscribing)
	expectStatus(t, conn, protocol.StatusSynthesizing)
	if f := readFrame(t, conn); f.Type != protocol.TypeResult || f.Text != "valid" {
		t.Fatalf("expected result for valid request, got %+v", f)
	}
}

func TestSessionFatalErrorCloses1011(t *testing.T) {
	stt := &fakeTranscriber{fn: func(gateway.TranscribeJob) (gateway.TranscriptResult, error) {
		return gateway.TranscriptResult{}, errors.New("engine melted")
	}}
	conn := dialSession(t, newTestHandler(t, stt, wavSynthesizer(), 4))
	readFrame(t, conn) // catalog

	sendRequest(t, conn, testVoice, []byte("boom"))
	expectStatus(t, conn, protocol.StatusTranscribing)

	f := readFrame(t, conn)
	if f.Type != protocol.TypeError {
		t.Fatalf("expected error frame, got %+v", f)
	}
	if !strings.HasPrefix(f.Message, "An internal error occurred:") {
		t.Fatalf("unexpected error message %q", f.Message)
	}

	_, err := readFrameErr(conn)
	if err == nil {
		t.Fatal("expected close after error frame")
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.CloseInternalServerErr {
		t.Fatalf("close code = %d, want %d", closeErr.Code, websocket.CloseInternalServerErr)
	}
	if !strings.Contains(closeErr.Text, "engine melted") {
		t.Fatalf("close reason %q missing cause", closeErr.Text)
	}
}

func TestSessionQueueOverflowAdvisory(t *testing.T) {
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	stt := &fakeTranscriber{fn: func(job gateway.TranscribeJob) (gateway.TranscriptResult, error) {
		started <- struct{}{}
		<-release
		return gateway.TranscriptResult{Text: string(job.Audio)}, nil
	}}
	conn := dialSession(t, newTestHandler(t, stt, wavSynthesizer(), 1))
	readFrame(t, conn) // catalog

	sendRequest(t, conn, testVoice, []byte("first"))
	expectStatus(t, conn, protocol.StatusTranscribing)
	<-started // pipeline is now blocked inside the engine

	sendRequest(t, conn, testVoice, []byte("second")) // fills the queue
	sendRequest(t, conn, testVoice, []byte("third"))  // overflows
	expectStatus(t, conn, protocol.StatusBusy)

	release <- struct{}{}
	expectStatus(t, conn, protocol.StatusSynthesizing)
	if f := readFrame(t, conn); f.Type != protocol.TypeResult || f.Text != "first" {
		t.Fatalf("expected result for first request, got %+v", f)
	}

	// The queued second request runs; the third was dropped.
	expectStatus(t, conn, protocol.StatusTranscribing)
	<-started
	release <- struct{}{}
	expectStatus(t, conn, protocol.StatusSynthesizing)
	if f := readFrame(t, conn); f.Type != protocol.TypeResult || f.Text != "second" {
		t.Fatalf("expected result for second request, got %+v", f)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newTestHandler(t, echoTranscriber(), wavSynthesizer(), 4)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	const sessions = 4
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				t.Errorf("session %d: dial: %v", i, err)
				return
			}
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			defer conn.Close()

			if _, err := readFrameErr(conn); err != nil {
				t.Errorf("session %d: catalog: %v", i, err)
				return
			}

			payload := fmt.Sprintf("utterance-%d", i)
			req := map[string]any{"voice": testVoice, "audio": base64.StdEncoding.EncodeToString([]byte(payload))}
			if err := conn.WriteJSON(req); err != nil {
				t.Errorf("session %d: send: %v", i, err)
				return
			}

			var result frame
			for {
				f, err := readFrameErr(conn)
				if err != nil {
					t.Errorf("session %d: read: %v", i, err)
					return
				}
				if f.Type == protocol.TypeResult {
					result = f
					break
				}
			}
			if result.Text != payload {
				t.Errorf("session %d: got text %q, want %q", i, result.Text, payload)
			}
			var audio []byte
			if err := json.Unmarshal(result.Audio, &audio); err != nil {
				t.Errorf("session %d: decode audio: %v", i, err)
				return
			}
			if string(audio) != "wav:"+payload {
				t.Errorf("session %d: got audio %q", i, audio)
			}
		}(i)
	}
	wg.Wait()
}
