package protocol

// The radio counts time in a free-running 40-bit register. One tick is
// 1/(128*499.2 MHz), about 15.65 ps. Every value below is derived from that
// period and from the speed of light in air.
const (
	Mask40        uint64 = 0x00FFFFFFFFFF
	TimeOverflow  uint64 = 1 << 40
	MaskTxDelayed uint64 = 0x00FFFFFFFE00 // delayed TX snaps to 512 ticks (~8 ns)

	SpeedOfLight    = 299702547.0           // m/s in air
	TimeResUS       = 0.000015650040064103  // µs per tick
	TicksPerUS      = 63897.6               // ticks per µs
	TicksPerMS      = 63897600              // ticks per ms
	DistancePerTick = 0.0046917639786159    // metres per tick
	TicksPerMeter   = 213.139451293         // ticks per metre
)

// TimestampFromBytes decodes the 5-byte little-endian timestamp at the head of b.
func TimestampFromBytes(b []byte) uint64 {
	_ = b[TimestampSize-1]
	return uint64(b[0]) |
		uint64(b[1])<<8 |
		uint64(b[2])<<16 |
		uint64(b[3])<<24 |
		uint64(b[4])<<32
}

// PutTimestamp encodes the low 40 bits of ts into b[0:5].
func PutTimestamp(b []byte, ts uint64) {
	_ = b[TimestampSize-1]
	for i := 0; i < TimestampSize; i++ {
		b[i] = byte(ts >> (8 * i))
	}
}

// TimestampBytes returns ts as the 5-byte array the radio registers use.
func TimestampBytes(ts uint64) [TimestampSize]byte {
	var out [TimestampSize]byte
	PutTimestamp(out[:], ts)
	return out
}

// TimestampDelta returns a-b in ticks, corrected for at most one wrap of the
// 40-bit counter between the two samples.
func TimestampDelta(a, b uint64) int64 {
	d := int64(a&Mask40) - int64(b&Mask40)
	if d < 0 {
		d += int64(TimeOverflow)
	}
	return d
}

// DelayedTxRegister returns the delayed-TX register value for a 40-bit
// target time: bits 8..39 with bit 0 clear, i.e. 512-tick resolution.
func DelayedTxRegister(ts uint64) uint32 { return uint32((ts&Mask40)>>8) & 0xFFFFFFFE }

// TicksToMicroseconds converts a tick interval to microseconds.
func TicksToMicroseconds(ticks int64) float64 { return float64(ticks) * TimeResUS }

// TicksToMeters converts a one-way flight time in ticks to metres.
func TicksToMeters(ticks float64) float64 { return ticks * DistancePerTick }

// MicrosecondsToTicks converts a reply delay in µs to radio ticks.
func MicrosecondsToTicks(us uint32) uint64 { return uint64(float64(us) * TicksPerUS) }
