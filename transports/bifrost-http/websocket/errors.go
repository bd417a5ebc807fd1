package websocket

import "errors"

var (
	ErrSessionLimitReached = errors.New("live session limit reached")
	ErrSessionExists       = errors.New("live session id already in use")
	ErrManagerClosed       = errors.New("live session manager is closed")
)
