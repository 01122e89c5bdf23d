package domain

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrSignalingNotOpen = errors.New("signaling transport not open")
	ErrNoPeerSession    = errors.New("no peer session available")
	ErrAlreadyOffered   = errors.New("offer already created for this session")
	ErrSessionClosed    = errors.New("peer session closed")
	ErrChannelNotOpen   = errors.New("input channel not open")
	ErrControllerClosed = errors.New("session controller not running")
)
