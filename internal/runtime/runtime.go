package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swagat-panda/VocalWeaver/internal/audio"
	"github.com/swagat-panda/VocalWeaver/internal/bus"
	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/gateway"
	"github.com/swagat-panda/VocalWeaver/internal/natsserver"
	"github.com/swagat-panda/VocalWeaver/internal/session"
	"github.com/swagat-panda/VocalWeaver/internal/snapshot"
	"github.com/swagat-panda/VocalWeaver/internal/stt"
	"github.com/swagat-panda/VocalWeaver/internal/tts"
	"github.com/swagat-panda/VocalWeaver/internal/voices"
)

// Runtime owns the process lifecycle: it brings every component up in
// dependency order, serves until the context is cancelled, and tears
// everything down in reverse.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	busClient  *bus.Client
	sttService *stt.Service
	ttsService *tts.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "natsserver")))
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.busClient = busClient

	registry, err := voices.Discover(r.cfg.Voices.Dir, r.logger.With(slog.String("component", "voices")))
	if err != nil {
		return fmt.Errorf("failed to discover voices: %w", err)
	}
	if registry.Len() == 0 {
		r.logger.Warn("no voices found", slog.String("dir", r.cfg.Voices.Dir))
	}

	snaps, err := snapshot.Open(ctx, r.cfg.Snapshot, r.logger.With(slog.String("component", "snapshot")))
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer func() { _ = snaps.Close() }()

	decoder, err := audio.NewDecoder(r.cfg.Audio, r.logger.With(slog.String("component", "audio")))
	if err != nil {
		return fmt.Errorf("failed to build audio decoder: %w", err)
	}

	recognizer, err := newRecognizer(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}
	sttService := stt.NewService(ctx, r.cfg.STT, busClient, decoder, recognizer, snaps, r.logger)
	if err := sttService.Start(); err != nil {
		return fmt.Errorf("failed to start stt service: %w", err)
	}
	defer sttService.Close()
	r.sttService = sttService

	synth, err := newSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}
	ttsService, err := tts.NewService(ctx, r.cfg.TTS, busClient, synth, registry, snaps, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build tts service: %w", err)
	}
	if err := ttsService.Start(); err != nil {
		return fmt.Errorf("failed to start tts service: %w", err)
	}
	defer ttsService.Close()
	r.ttsService = ttsService

	transcriber := gateway.NewTranscriber(busClient, r.cfg.STT)
	synthesizer := gateway.NewSynthesizer(busClient, registry, r.cfg.TTS)
	wsHandler := session.NewHandler(r.cfg.Session, registry, transcriber, synthesizer, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/ws", wsHandler)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricsHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Int("voices", registry.Len()),
		slog.String("stt_mode", r.cfg.STT.Mode),
		slog.String("tts_mode", r.cfg.TTS.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	// Shutdown leaves hijacked websocket connections alive; Close severs them.
	_ = r.httpServer.Close()
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func newRecognizer(cfg config.STTConfig) (stt.Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return stt.NewExecRecognizer(cfg)
	case "whisper":
		return stt.NewWhisperRecognizer(cfg)
	default:
		return stt.NewMockRecognizer(), nil
	}
}

func newSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "exec":
		return tts.NewExecSynth(cfg.Command)
	default:
		return tts.NewMockSynth(), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.sttService.Healthy() && r.ttsService.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
