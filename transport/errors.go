package transport

import "errors"

var (
	ErrModeLocked    = errors.New("role cannot change after the session started")
	ErrUnknownMode   = errors.New("unknown role")
	ErrNoMode        = errors.New("role not set")
	ErrNoDriver      = errors.New("nil radio driver")
	ErrInvalidConfig = errors.New("invalid session config")
	ErrLateTransmit  = errors.New("delayed transmit time already passed")
	ErrRadioBusy     = errors.New("radio busy")
)
