//go:build !tinygo && !baremetal

// This file is built only for non-embedded targets (host-based testing).
package uwbtwr

import (
	"github.com/ystepanoff/uwbtwr/driver/stub"
)

type (
	Medium        = stub.Medium
	SimulatedNode = stub.Node
	NodeConfig    = stub.NodeConfig
	Position      = stub.Position
)

// NewMedium returns an empty simulated radio medium.
func NewMedium() *Medium { return stub.NewMedium() }

// NewSimulated adds a radio to m and runs a session in the given role on it.
// The node delivers its radio events to the returned session.
func NewSimulated(m *Medium, node NodeConfig, cfg Config, mode Mode) (*Session, *SimulatedNode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	n := m.AddNode(node)
	s, err := newSession(cfg, n, n, mode)
	if err != nil {
		return nil, nil, err
	}
	n.Attach(s)
	return s, n, nil
}
