package live

import "errors"

var (
	ErrBridgeClosed     = errors.New("live bridge is closed")
	ErrNotConnected     = errors.New("live upstream is not connected")
	ErrConnectExhausted = errors.New("live upstream connect attempts exhausted")
	ErrUnknownProtocol  = errors.New("unknown live protocol")
)
