package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

type mockSynth struct{}

// NewMockSynth returns a synthesizer producing a short sine burst whose
// length scales with the input text. Useful for development without a
// piper binary installed.
func NewMockSynth() Synthesizer {
	return &mockSynth{}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 4)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		if req.Voice == nil {
			errs <- errors.New("synth request missing voice")
			return
		}

		duration := 150*time.Millisecond + time.Duration(len(req.Text))*10*time.Millisecond
		if duration > 2*time.Second {
			duration = 2 * time.Second
		}
		rate := req.Voice.SampleRate
		total := int(duration.Seconds() * float64(rate))
		pcm := make([]byte, total*2)
		for i := 0; i < total; i++ {
			sample := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
		}

		half := len(pcm) / 2 / 2 * 2
		sequence := 0
		for _, part := range [][]byte{pcm[:half], pcm[half:]} {
			if len(part) == 0 {
				continue
			}
			select {
			case chunks <- SynthChunk{Sequence: sequence, PCM: part}:
				sequence++
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		select {
		case chunks <- SynthChunk{Sequence: sequence, Final: true}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}
