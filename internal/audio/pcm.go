package audio

import (
	"encoding/binary"
	"time"
)

// TargetSampleRate is the rate the transcription engine consumes.
const TargetSampleRate = 16000

// PcmBuffer holds one complete decoded utterance: mono samples in
// [-1, 1] at TargetSampleRate.
type PcmBuffer []float32

func (p PcmBuffer) Duration() time.Duration {
	return time.Duration(len(p)) * time.Second / TargetSampleRate
}

// SamplesFromS16LE converts little-endian 16-bit PCM bytes to int
// samples. Trailing odd bytes are dropped.
func SamplesFromS16LE(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

// SamplesFromFloat32 converts normalized samples to the 16-bit integer
// range expected by WAV encoders and exec collaborators.
func SamplesFromFloat32(pcm []float32) []int {
	samples := make([]int, len(pcm))
	for i, s := range pcm {
		samples[i] = int(clamp(s) * 32767)
	}
	return samples
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
