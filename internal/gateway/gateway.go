package gateway

import (
	"context"
	"errors"
)

// ErrVoiceNotFound marks a request for a display name absent from the
// registry. It is recoverable: the session reports it and stays open.
var ErrVoiceNotFound = errors.New("voice not found")

// Requester is the slice of the bus client the gateways need.
type Requester interface {
	RequestJSON(ctx context.Context, subject string, req, reply any) error
}
