package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/swagat-panda/VocalWeaver/internal/config"
)

// ErrDecodeFailed marks a blob that could not be turned into PCM. The
// pipeline recovers from it by treating the utterance as silence.
var ErrDecodeFailed = errors.New("audio decode failed")

// Decoder turns compressed audio blobs into mono 16 kHz PCM. RIFF/WAVE
// blobs decode natively; every other container goes through the
// configured external converter (ffmpeg by default) emitting s16le on
// stdout.
type Decoder struct {
	cmd      []string
	timeout  time.Duration
	maxBytes int
	log      *slog.Logger
}

func NewDecoder(cfg config.AudioConfig, log *slog.Logger) (*Decoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.ConverterCommand)
	if err != nil {
		return nil, fmt.Errorf("parse converter command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("converter command is empty")
	}
	return &Decoder{
		cmd:      args,
		timeout:  time.Duration(cfg.ConvertTimeoutMS) * time.Millisecond,
		maxBytes: cfg.MaxBlobBytes,
		log:      log.With(slog.String("component", "audio-decoder")),
	}, nil
}

func (d *Decoder) Decode(ctx context.Context, blob []byte) (PcmBuffer, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrDecodeFailed)
	}
	if len(blob) > d.maxBytes {
		return nil, fmt.Errorf("%w: blob of %d bytes exceeds limit %d", ErrDecodeFailed, len(blob), d.maxBytes)
	}

	if isWAV(blob) {
		pcm, err := decodeWAVBlob(blob)
		if err == nil {
			return pcm, nil
		}
		d.log.Debug("native wav decode failed, trying converter", slog.String("error", err.Error()))
	}

	raw, err := d.convert(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	samples := SamplesFromS16LE(raw)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: converter produced no samples", ErrDecodeFailed)
	}
	return normalize(samples, 16), nil
}

func (d *Decoder) convert(ctx context.Context, blob []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.cmd[0], d.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(blob)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("converter failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Resample converts mono PCM between sample rates. Same-rate input is
// passed through untouched.
func Resample(pcm PcmBuffer, srcRate, dstRate int) (PcmBuffer, error) {
	if srcRate == dstRate || len(pcm) == 0 {
		return pcm, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	input := make([]float64, len(pcm))
	for i, s := range pcm {
		input[i] = float64(s)
	}
	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	out := make(PcmBuffer, len(output))
	for i, s := range output {
		out[i] = clamp(float32(s))
	}
	return out, nil
}
