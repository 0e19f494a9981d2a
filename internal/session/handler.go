package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/gateway"
	"github.com/swagat-panda/VocalWeaver/internal/voices"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Transcriber turns one utterance of compressed audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, job gateway.TranscribeJob) (gateway.TranscriptResult, error)
}

// Synthesizer renders text as a WAV container in the requested voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, job gateway.SynthesisJob) (gateway.SynthesisResult, error)
}

// Handler upgrades websocket requests and runs one session per connection.
type Handler struct {
	cfg      config.SessionConfig
	registry *voices.Registry
	stt      Transcriber
	tts      Synthesizer
	metrics  *metrics
	log      *slog.Logger
}

func NewHandler(cfg config.SessionConfig, registry *voices.Registry, stt Transcriber, tts Synthesizer, logger *slog.Logger) *Handler {
	log := logger.With(slog.String("component", "session"))
	return &Handler{
		cfg:      cfg,
		registry: registry,
		stt:      stt,
		tts:      tts,
		metrics:  newMetrics(log),
		log:      log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slogError(err))
		return
	}
	sess := newSession(h, conn, r.Context())
	sess.run()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
