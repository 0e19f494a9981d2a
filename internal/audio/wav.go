package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavBuffer is an in-memory io.WriteSeeker for the wav encoder, which
// seeks back over the RIFF header to patch chunk sizes on Close.
type wavBuffer struct {
	data []byte
	pos  int
}

func (b *wavBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *wavBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("wav buffer: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("wav buffer: negative seek position")
	}
	b.pos = int(next)
	return next, nil
}

func (b *wavBuffer) Bytes() []byte { return b.data }

// EncodeWAV assembles a complete in-memory WAV container from integer
// samples. The returned bytes always carry finalized chunk sizes.
func EncodeWAV(samples []int, sampleRate, channels, bitDepth int) ([]byte, error) {
	buf := &wavBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, bitDepth, channels, 1)
	ib := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func isWAV(blob []byte) bool {
	return len(blob) >= 12 && bytes.Equal(blob[0:4], []byte("RIFF")) && bytes.Equal(blob[8:12], []byte("WAVE"))
}

func decodeWAVBlob(blob []byte) (PcmBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(blob))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, errors.New("decode wav: no samples")
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	mono := downmix(buf.Data, buf.Format.NumChannels)
	pcm := normalize(mono, bitDepth)
	return Resample(pcm, buf.Format.SampleRate, TargetSampleRate)
}

// downmix averages interleaved channels into mono.
func downmix(samples []int, channels int) []int {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return mono
}

// normalize divides integer samples by the max representable value of
// the source bit depth, clamping into [-1, 1].
func normalize(samples []int, bitDepth int) PcmBuffer {
	max := float32(int64(1)<<(bitDepth-1) - 1)
	pcm := make(PcmBuffer, len(samples))
	for i, s := range samples {
		pcm[i] = clamp(float32(s) / max)
	}
	return pcm
}
