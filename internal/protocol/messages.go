package protocol

// TranscribeRequest carries one complete utterance to the STT workers.
// Audio is the raw compressed blob as received from the client.
type TranscribeRequest struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Audio     []byte `json:"audio"`
}

// TranscribeReply is the STT worker response. An empty Text with no
// Error means the utterance contained no recognizable speech.
type TranscribeReply struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// SynthesizeRequest carries resolved synthesis work to the TTS workers.
// EngineID names a registry entry, never a client-facing display name.
type SynthesizeRequest struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	EngineID  string `json:"engine_id"`
	Text      string `json:"text"`
}

// SynthesizeReply carries a complete WAV container, never a partial one.
type SynthesizeReply struct {
	Audio      []byte `json:"audio"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Error      string `json:"error,omitempty"`
}

const (
	SubjectTranscribe = "stt.transcribe"
	SubjectSynthesize = "tts.synthesize"

	QueueSTT = "stt-workers"
	QueueTTS = "tts-workers"
)
