package protocol

// Client-facing WebSocket schema. Every server frame carries a type
// discriminator; the client request has none and is identified by shape.

const (
	TypeVoices = "voices"
	TypeStatus = "status"
	TypeResult = "result"
	TypeError  = "error"
)

// Advisory status and result texts shown verbatim by clients.
const (
	StatusTranscribing = "Received audio. Transcribing..."
	StatusSynthesizing = "Synthesizing new voice..."
	StatusBusy         = "Server is busy. Request dropped."
	NoSpeechText       = "No speech detected."
	VoiceNotFoundText  = "Selected voice not found."
)

// VoiceChangeRequest is the single client-to-server message: one complete
// utterance plus the display name of the voice to re-synthesize it in.
// Audio arrives base64-encoded and is decoded by encoding/json.
type VoiceChangeRequest struct {
	Voice string `json:"voice"`
	Audio []byte `json:"audio"`
}

// Valid reports whether the request names a voice and carries audio.
// Anything else is dropped without a reply.
func (r VoiceChangeRequest) Valid() bool {
	return r.Voice != "" && len(r.Audio) > 0
}

// CatalogMessage lists the available voice display names. Sent exactly
// once per session, immediately after the connection is accepted.
type CatalogMessage struct {
	Type string   `json:"type"`
	Data []string `json:"data"`
}

type StatusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ResultMessage terminates a request cycle. Audio is null when no speech
// was detected in the utterance.
type ResultMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Audio []byte `json:"audio"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewCatalog(names []string) CatalogMessage {
	return CatalogMessage{Type: TypeVoices, Data: names}
}

func NewStatus(message string) StatusMessage {
	return StatusMessage{Type: TypeStatus, Message: message}
}

func NewResult(text string, audio []byte) ResultMessage {
	return ResultMessage{Type: TypeResult, Text: text, Audio: audio}
}

func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}
