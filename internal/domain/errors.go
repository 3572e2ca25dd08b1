package domain

import "errors"

var (
	// ErrAcquisition means the camera or microphone is unavailable or denied.
	ErrAcquisition = errors.New("media acquisition failed")
	// ErrDecode marks a malformed or unknown signaling frame.
	ErrDecode = errors.New("malformed signaling frame")
	// ErrNegotiation means the adapter rejected a description or candidate.
	ErrNegotiation = errors.New("media negotiation failed")
	// ErrTransportDown is returned when no transport connection is up.
	ErrTransportDown = errors.New("transport down")
	// ErrBusy is returned when a second call is attempted while one is live.
	ErrBusy = errors.New("call already in progress")
	// ErrSelfCall is returned for a call whose peer is the local user.
	ErrSelfCall = errors.New("cannot call yourself")
)
