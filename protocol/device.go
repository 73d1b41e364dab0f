package protocol

// Device is one known peer, as seen from either side of a ranging exchange.
// A tag fills the tag-view timestamps and an anchor the anchor-view ones; the
// anchor also copies the tag's three timestamps out of the Range frame so it
// holds all six when it computes the distance.
type Device struct {
	Short  ShortAddr
	EUI    EUI64
	Active bool

	// LastAction is the liveness tick (ms) of the last frame exchanged with this peer.
	LastAction uint32

	// tag view
	PollSent        uint64
	PollAckReceived uint64
	RangeSent       uint64

	// anchor view
	PollReceived  uint64
	PollAckSent   uint64
	RangeReceived uint64
	FinalSent     uint64

	// DeltaTime is the reply delay in ticks assigned by the last Poll.
	DeltaTime uint64
	// DelayedTxTime is the value last written to the delayed-TX register.
	DelayedTxTime uint32

	// Range is the last distance in metres computed for, or reported by, this peer.
	Range float32

	RxPower        int16
	FirstPathPower int16
	Quality        int16
}

// Reset clears the record before it is reused for a new peer.
func (d *Device) Reset() { *d = Device{} }

// Exchange returns the six timestamps of the current exchange.
func (d *Device) Exchange() Exchange {
	return Exchange{
		PollSent:        d.PollSent,
		PollAckReceived: d.PollAckReceived,
		PollReceived:    d.PollReceived,
		PollAckSent:     d.PollAckSent,
		RangeReceived:   d.RangeReceived,
		RangeSent:       d.RangeSent,
	}
}

// IsAlive reports whether the peer was heard from within timeout ticks of now.
// The tick counter is 32 bits wide and the subtraction wraps with it.
func (d *Device) IsAlive(now, timeout uint32) bool { return now-d.LastAction <= timeout }
