package service

import (
	"errors"

	"github.com/plebmarket/mcpgate/internal/nostrauth"
)

// AuthFailure is returned when a signed auth event is required but missing,
// or present but invalid. Message is one of the stable nostrauth messages.
type AuthFailure struct {
	Message string
}

func (e *AuthFailure) Error() string { return e.Message }

// IsAuthFailure reports whether err is an *AuthFailure.
func IsAuthFailure(err error) bool {
	var af *AuthFailure
	return errors.As(err, &af)
}

// EventGate runs signed auth events through the verifier before privileged
// key operations. With Required unset an absent event is accepted; a present
// event is always verified.
type EventGate struct {
	Verifier *nostrauth.Verifier
	Required bool
}

// NewEventGate returns a gate around v.
func NewEventGate(v *nostrauth.Verifier, required bool) *EventGate {
	if v == nil {
		v = &nostrauth.Verifier{}
	}
	return &EventGate{Verifier: v, Required: required}
}

// Check validates ev for pubkey. A nil return means the operation may go on.
func (g *EventGate) Check(ev *nostrauth.Event, pubkey string) error {
	if ev == nil && !g.Required {
		return nil
	}
	res := g.Verifier.Verify(ev, pubkey)
	if !res.Valid {
		return &AuthFailure{Message: res.Error}
	}
	return nil
}
