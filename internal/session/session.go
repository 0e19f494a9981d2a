package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/swagat-panda/VocalWeaver/internal/gateway"
	"github.com/swagat-panda/VocalWeaver/internal/protocol"
	"github.com/swagat-panda/VocalWeaver/internal/voices"
)

// Close reasons ride in a websocket control frame, which caps the payload at
// 125 bytes (2 of them taken by the status code).
const maxCloseReason = 123

// session is the server side of one websocket connection. The read loop
// validates and queues inbound requests; the pipeline loop is the only
// goroutine that executes them, so a session never runs two requests at
// once. Requests arriving while one is in flight wait in the bounded queue;
// overflow is dropped with an advisory status message.
type session struct {
	id       string
	conn     *websocket.Conn
	registry *voices.Registry
	stt      Transcriber
	tts      Synthesizer
	metrics  *metrics
	log      *slog.Logger

	writeTimeout time.Duration
	readLimit    int64

	connMu  sync.Mutex
	stateMu sync.Mutex
	state   State

	queue chan protocol.VoiceChangeRequest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSession(h *Handler, conn *websocket.Conn, parent context.Context) *session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &session{
		id:           id,
		conn:         conn,
		registry:     h.registry,
		stt:          h.stt,
		tts:          h.tts,
		metrics:      h.metrics,
		log:          h.log.With(slog.String("session_id", id)),
		writeTimeout: time.Duration(h.cfg.WriteTimeoutMS) * time.Millisecond,
		readLimit:    h.cfg.ReadLimitBytes,
		state:        StateHandshaking,
		queue:        make(chan protocol.VoiceChangeRequest, h.cfg.QueueDepth),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *session) run() {
	defer s.cleanup()

	s.metrics.sessionOpened(s.ctx)
	s.conn.SetReadLimit(s.readLimit)

	if err := s.writeJSON(protocol.NewCatalog(s.registry.DisplayNames())); err != nil {
		s.log.Warn("failed to send voice catalog", slogError(err))
		return
	}
	if err := s.transition(StateIdle); err != nil {
		s.fail(err)
		return
	}
	s.log.Info("session established", slog.Int("voices", s.registry.Len()))

	s.wg.Add(1)
	go s.pipelineLoop()

	s.readLoop()
}

func (s *session) readLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case s.ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.log.Info("session closed by client")
			default:
				s.log.Warn("session read error", slogError(err))
			}
			return
		}

		var req protocol.VoiceChangeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.log.Debug("dropping malformed request", slogError(err))
			continue
		}
		if !req.Valid() {
			s.log.Debug("dropping request with missing fields")
			continue
		}

		select {
		case s.queue <- req:
		default:
			s.log.Warn("request queue full, dropping request")
			s.metrics.requestDropped(s.ctx)
			if err := s.writeJSON(protocol.NewStatus(protocol.StatusBusy)); err != nil {
				return
			}
		}
	}
}

func (s *session) pipelineLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case req := <-s.queue:
			s.handle(req)
		}
	}
}

func (s *session) handle(req protocol.VoiceChangeRequest) {
	start := time.Now()
	requestID := uuid.NewString()
	log := s.log.With(slog.String("request_id", requestID), slog.String("voice", req.Voice))

	if err := s.transition(StateProcessing); err != nil {
		s.fail(err)
		return
	}
	log.Info("processing voice change request", slog.Int("audio_bytes", len(req.Audio)))

	if err := s.writeJSON(protocol.NewStatus(protocol.StatusTranscribing)); err != nil {
		s.abort("status write failed", err)
		return
	}

	transcript, err := s.stt.Transcribe(s.ctx, gateway.TranscribeJob{
		SessionID: s.id,
		RequestID: requestID,
		Audio:     req.Audio,
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.metrics.requestDone(s.ctx, outcomeFailed, time.Since(start))
		s.fail(err)
		return
	}

	if transcript.IsEmpty {
		log.Info("no speech detected")
		if err := s.writeJSON(protocol.NewResult(protocol.NoSpeechText, nil)); err != nil {
			s.abort("result write failed", err)
			return
		}
		s.metrics.requestDone(s.ctx, outcomeNoSpeech, time.Since(start))
		s.idle()
		return
	}

	log.Info("transcription complete", slog.Int("transcript_chars", len(transcript.Text)))
	if err := s.writeJSON(protocol.NewStatus(protocol.StatusSynthesizing)); err != nil {
		s.abort("status write failed", err)
		return
	}

	synth, err := s.tts.Synthesize(s.ctx, gateway.SynthesisJob{
		SessionID: s.id,
		RequestID: requestID,
		VoiceName: req.Voice,
		Text:      transcript.Text,
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		if errors.Is(err, gateway.ErrVoiceNotFound) {
			log.Warn("unknown voice requested")
			if werr := s.writeJSON(protocol.NewError(protocol.VoiceNotFoundText)); werr != nil {
				s.abort("error write failed", werr)
				return
			}
			s.metrics.requestDone(s.ctx, outcomeUnknownVoice, time.Since(start))
			s.idle()
			return
		}
		s.metrics.requestDone(s.ctx, outcomeFailed, time.Since(start))
		s.fail(err)
		return
	}

	if err := s.writeJSON(protocol.NewResult(transcript.Text, synth.Audio)); err != nil {
		s.abort("result write failed", err)
		return
	}
	log.Info("voice change complete",
		slog.Int("audio_bytes", len(synth.Audio)),
		slog.Duration("elapsed", time.Since(start)))
	s.metrics.requestDone(s.ctx, outcomeOK, time.Since(start))
	s.idle()
}

func (s *session) idle() {
	if err := s.transition(StateIdle); err != nil {
		s.fail(err)
	}
}

func (s *session) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(v)
}

// fail reports an unrecoverable error to the client and tears the session
// down: error message, abnormal close frame, then the connection itself.
func (s *session) fail(err error) {
	s.log.Error("session failed", slogError(err))
	reason := "An internal error occurred: " + err.Error()
	_ = s.writeJSON(protocol.NewError(reason))
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	frame := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(s.writeTimeout))
	s.markClosed()
	s.cancel()
	_ = s.conn.Close()
}

// abort tears the session down without a farewell frame. Used when the
// write path itself is broken.
func (s *session) abort(reason string, err error) {
	s.log.Warn("session aborted", slog.String("reason", reason), slogError(err))
	s.markClosed()
	s.cancel()
	_ = s.conn.Close()
}

func (s *session) cleanup() {
	s.cancel()

	s.connMu.Lock()
	_ = s.conn.Close()
	s.connMu.Unlock()

	s.wg.Wait()
	s.markClosed()
	s.metrics.sessionClosed(context.Background())
	s.log.Info("session cleaned up")
}
