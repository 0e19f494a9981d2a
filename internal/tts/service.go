package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nats-io/nats.go"

	"github.com/swagat-panda/VocalWeaver/internal/audio"
	"github.com/swagat-panda/VocalWeaver/internal/bus"
	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/protocol"
	"github.com/swagat-panda/VocalWeaver/internal/snapshot"
	"github.com/swagat-panda/VocalWeaver/internal/voices"
)

type cachedAudio struct {
	audio      []byte
	sampleRate int
}

// Service answers synthesis requests on the bus. Workers stream PCM out
// of the engine, assemble a complete WAV container in memory and reply
// with it; repeated (voice, text) pairs are served from an LRU cache.
type Service struct {
	cfg      config.TTSConfig
	bus      *bus.Client
	synth    Synthesizer
	registry *voices.Registry
	snaps    *snapshot.Store
	cache    *lru.Cache[string, cachedAudio]
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	ch       chan *nats.Msg
	wg       sync.WaitGroup
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, registry *voices.Registry, snaps *snapshot.Store, logger *slog.Logger) (*Service, error) {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		synth:    synth,
		registry: registry,
		snaps:    snaps,
		log:      logger.With(slog.String("component", "tts-service")),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.CacheEntries > 0 {
		cache, err := lru.New[string, cachedAudio](cfg.CacheEntries)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create synthesis cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

func (s *Service) Start() error {
	s.ch = make(chan *nats.Msg, s.cfg.Workers*4)
	sub, err := s.bus.Conn().ChanQueueSubscribe(protocol.SubjectSynthesize, protocol.QueueTTS, s.ch)
	if err != nil {
		return fmt.Errorf("subscribe synthesize requests: %w", err)
	}
	s.sub = sub

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.log.Info("tts service started",
		slog.String("mode", s.cfg.Mode),
		slog.Int("workers", s.cfg.Workers),
		slog.Int("voices", s.registry.Len()))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.sub != nil
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.ch:
			if !ok {
				return
			}
			s.handle(msg)
		}
	}
}

func (s *Service) handle(msg *nats.Msg) {
	var req protocol.SynthesizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("invalid synthesize request", slogError(err))
		s.respond(msg, protocol.SynthesizeReply{Error: "invalid request payload"})
		return
	}
	s.respond(msg, s.process(req))
}

func (s *Service) process(req protocol.SynthesizeRequest) protocol.SynthesizeReply {
	desc, ok := s.registry.ByEngineID(req.EngineID)
	if !ok {
		return protocol.SynthesizeReply{Error: fmt.Sprintf("unknown voice engine %q", req.EngineID)}
	}

	cacheKey := req.EngineID + "\x00" + req.Text
	if s.cache != nil {
		if hit, ok := s.cache.Get(cacheKey); ok {
			return protocol.SynthesizeReply{Audio: hit.audio, SampleRate: hit.sampleRate}
		}
	}

	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
	defer cancel()

	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Text:      req.Text,
		Voice:     desc,
	})

	var pcm []byte
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				s.log.Error("synthesis failed",
					slog.String("session_id", req.SessionID),
					slog.String("voice", desc.DisplayName),
					slogError(err))
				return protocol.SynthesizeReply{Error: fmt.Sprintf("synthesis failed: %v", err)}
			}
		case <-ctx.Done():
			return protocol.SynthesizeReply{Error: fmt.Sprintf("synthesis cancelled: %v", ctx.Err())}
		}
	}

	if len(pcm) == 0 {
		return protocol.SynthesizeReply{Error: "synthesis produced no audio"}
	}

	wavBlob, err := audio.EncodeWAV(audio.SamplesFromS16LE(pcm), desc.SampleRate, 1, 16)
	if err != nil {
		return protocol.SynthesizeReply{Error: fmt.Sprintf("assemble wav: %v", err)}
	}

	s.snaps.SaveSynthesized(req.SessionID, req.RequestID, wavBlob, desc.DisplayName)
	if s.cache != nil {
		s.cache.Add(cacheKey, cachedAudio{audio: wavBlob, sampleRate: desc.SampleRate})
	}
	return protocol.SynthesizeReply{Audio: wavBlob, SampleRate: desc.SampleRate}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.SynthesizeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Warn("marshal synthesize reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("respond synthesize reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
