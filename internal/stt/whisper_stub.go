//go:build !whisper

package stt

import (
	"errors"

	"github.com/swagat-panda/VocalWeaver/internal/config"
)

// NewWhisperRecognizer is only available when built with -tags whisper,
// which links the whisper.cpp bindings.
func NewWhisperRecognizer(config.STTConfig) (Recognizer, error) {
	return nil, errors.New("stt mode \"whisper\" requires a build with -tags whisper")
}
