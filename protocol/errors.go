package protocol

import "errors"

var (
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrBufferTooSmall     = errors.New("buffer too small for frame")
	ErrTooManyDevices     = errors.New("too many devices (max 6)")
	ErrDegenerateExchange = errors.New("degenerate ranging exchange (zero denominator)")
	ErrInvalidAddress     = errors.New("invalid short address")
)
