package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingFields        = errors.New("missing required fields")
	ErrInvalidStatus        = errors.New("invalid status value")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidTransition    = errors.New("invalid conversation transition")
	ErrAmbiguousChannel     = errors.New("conversation bound to both official account and gateway instance")
	ErrNoChannel            = errors.New("conversation has no sending channel")
)

// ProviderError wraps a failed call to one of the sending backends. Dispatch
// returns it as data rather than letting it escape; the caller records the
// message as failed with this error's text.
type ProviderError struct {
	Channel    Channel
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Channel, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Channel, e.Err)
	}
	return string(e.Channel) + ": send failed"
}

func (e *ProviderError) Unwrap() error { return e.Err }
