// Package uwbtwr provides a façade to the UWB two-way ranging layer.
package uwbtwr

import (
	"github.com/ystepanoff/uwbtwr/protocol"
	"github.com/ystepanoff/uwbtwr/transport"
)

// NewTag and NewAnchor work on any target with a caller-supplied driver.
// constructors_host.go adds simulated radios for development/testing
// (//go:build !tinygo && !baremetal).

type (
	ShortAddr   = protocol.ShortAddr
	EUI64       = protocol.EUI64
	Device      = protocol.Device
	Session     = transport.Session
	Config      = transport.Config
	Mode        = transport.Mode
	RangeReport = transport.RangeReport
	Snapshot    = transport.Snapshot
	RadioDriver = transport.RadioDriver
	TickSource  = transport.TickSource
	TickFunc    = transport.TickFunc
)

// Error constants exposed in the public API
var (
	ErrMalformedFrame     = protocol.ErrMalformedFrame
	ErrDegenerateExchange = protocol.ErrDegenerateExchange
	ErrInvalidAddress     = protocol.ErrInvalidAddress
	ErrInvalidConfig      = transport.ErrInvalidConfig
	ErrModeLocked         = transport.ErrModeLocked
	ErrNoMode             = transport.ErrNoMode
	ErrLateTransmit       = transport.ErrLateTransmit
)

// Constants exposed in the public API
const (
	ModeTag    = transport.ModeTag
	ModeAnchor = transport.ModeAnchor

	MaxDevices    = protocol.MaxDevices
	BroadcastByte = protocol.BroadcastByte
)

// DefaultConfig returns the standard schedule for a radio with the given
// addresses.
func DefaultConfig(short ShortAddr, eui EUI64) Config {
	return transport.DefaultConfig(short, eui)
}

// ParseShortAddr and ParseEUI64 accept hex ("0x00AA") or decimal strings.
func ParseShortAddr(s string) (ShortAddr, error) { return protocol.ParseShortAddr(s) }

func ParseEUI64(s string) (EUI64, error) { return protocol.ParseEUI64(s) }

// NewTag returns a session that ranges as a tag over radio.
func NewTag(cfg Config, radio RadioDriver, clock TickSource) (*Session, error) {
	return newSession(cfg, radio, clock, ModeTag)
}

// NewAnchor returns a session that answers tags over radio.
func NewAnchor(cfg Config, radio RadioDriver, clock TickSource) (*Session, error) {
	return newSession(cfg, radio, clock, ModeAnchor)
}

func newSession(cfg Config, radio RadioDriver, clock TickSource, mode Mode) (*Session, error) {
	s, err := transport.NewSession(cfg, radio, clock)
	if err != nil {
		return nil, err
	}
	if err := s.SetMode(mode); err != nil {
		return nil, err
	}
	return s, nil
}
