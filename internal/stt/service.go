package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/swagat-panda/VocalWeaver/internal/audio"
	"github.com/swagat-panda/VocalWeaver/internal/bus"
	"github.com/swagat-panda/VocalWeaver/internal/config"
	"github.com/swagat-panda/VocalWeaver/internal/protocol"
	"github.com/swagat-panda/VocalWeaver/internal/snapshot"
)

// Service answers transcription requests on the bus. Each request is one
// complete utterance: the worker decodes the blob, runs the recognizer
// and replies with the transcript. Decode failures reply with an empty
// transcript so the session treats them as silence.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	decoder    *audio.Decoder
	recognizer Recognizer
	snaps      *snapshot.Store
	log        *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	sub        *nats.Subscription
	ch         chan *nats.Msg
	wg         sync.WaitGroup
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, decoder *audio.Decoder, recognizer Recognizer, snaps *snapshot.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		decoder:    decoder,
		recognizer: recognizer,
		snaps:      snaps,
		log:        logger.With(slog.String("component", "stt-service")),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the transcription subject with a queue group and
// launches the worker pool. Workers bound the number of utterances being
// decoded and transcribed at once.
func (s *Service) Start() error {
	s.ch = make(chan *nats.Msg, s.cfg.Workers*4)
	sub, err := s.bus.Conn().ChanQueueSubscribe(protocol.SubjectTranscribe, protocol.QueueSTT, s.ch)
	if err != nil {
		return fmt.Errorf("subscribe transcribe requests: %w", err)
	}
	s.sub = sub

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.log.Info("stt service started",
		slog.String("mode", s.cfg.Mode),
		slog.Int("workers", s.cfg.Workers))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
	if closer, ok := s.recognizer.(io.Closer); ok {
		_ = closer.Close()
	}
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
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("invalid transcribe request", slogError(err))
		s.respond(msg, protocol.TranscribeReply{Error: "invalid request payload"})
		return
	}
	s.respond(msg, s.process(req))
}

func (s *Service) process(req protocol.TranscribeRequest) protocol.TranscribeReply {
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
	defer cancel()

	s.snaps.SaveReceived(req.SessionID, req.RequestID, req.Audio)

	pcm, err := s.decoder.Decode(ctx, req.Audio)
	if err != nil {
		s.log.Warn("decode failed, treating as silence",
			slog.String("session_id", req.SessionID),
			slog.String("request_id", req.RequestID),
			slogError(err))
		return protocol.TranscribeReply{}
	}

	result, err := s.recognizer.Transcribe(ctx, pcm)
	if err != nil {
		s.log.Error("transcription failed",
			slog.String("session_id", req.SessionID),
			slog.String("request_id", req.RequestID),
			slogError(err))
		return protocol.TranscribeReply{Error: fmt.Sprintf("transcription failed: %v", err)}
	}

	if s.snaps.Enabled() {
		if wavBlob, err := audio.EncodeWAV(audio.SamplesFromFloat32(pcm), audio.TargetSampleRate, 1, 16); err == nil {
			s.snaps.SaveConverted(req.SessionID, req.RequestID, wavBlob, result.Text)
		}
	}

	return protocol.TranscribeReply{Text: result.Text, Confidence: result.Confidence}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.TranscribeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.log.Warn("marshal transcribe reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("respond transcribe reply", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
