package engine

import "errors"

var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrInvalidFrame       = errors.New("invalid frame")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrModuleNotReady     = errors.New("merge module not ready")
	ErrNotScrubbing       = errors.New("no active scrub session")
	ErrEngineClosed       = errors.New("engine closed")
)
