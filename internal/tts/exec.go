package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd []string
}

// NewExecSynth wraps a piper style CLI: the voice's model and config
// paths are appended per call, the text arrives on stdin, and raw s16le
// PCM at the voice's sample rate streams back on stdout.
func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		if req.Voice == nil {
			errs <- errors.New("synth request missing voice")
			return
		}

		args := append([]string{}, e.cmd[1:]...)
		args = append(args,
			"--model", req.Voice.ModelPath,
			"--config", req.Voice.ConfigPath,
			"--output-raw")

		cmd := exec.CommandContext(ctx, e.cmd[0], args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		if _, err := io.WriteString(stdin, req.Text+"\n"); err != nil {
			errs <- err
			cmd.Wait()
			return
		}
		stdin.Close()

		buf := make([]byte, 32*1024)
		sequence := 0
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				pcm := make([]byte, n)
				copy(pcm, buf[:n])
				select {
				case chunks <- SynthChunk{Sequence: sequence, PCM: pcm}:
					sequence++
				case <-ctx.Done():
					errs <- ctx.Err()
					cmd.Wait()
					return
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				errs <- readErr
				cmd.Wait()
				return
			}
		}

		if err := cmd.Wait(); err != nil {
			errs <- fmt.Errorf("tts command failed: %w: %s", err, stderr.String())
			return
		}
		select {
		case chunks <- SynthChunk{Sequence: sequence, Final: true}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}
