package protocol

// Exchange holds the six timestamps of one asymmetric double-sided
// two-way-ranging round. Tag-clock values: PollSent, PollAckReceived,
// RangeSent. Anchor-clock values: PollReceived, PollAckSent, RangeReceived.
type Exchange struct {
	PollSent        uint64
	PollAckReceived uint64
	PollReceived    uint64
	PollAckSent     uint64
	RangeReceived   uint64
	RangeSent       uint64
}

// Intervals returns the two round trips and two reply times, each corrected
// for a wrap of the 40-bit clock.
func (x Exchange) Intervals() (round1, round2, reply1, reply2 int64) {
	round1 = TimestampDelta(x.PollAckReceived, x.PollSent)
	round2 = TimestampDelta(x.RangeReceived, x.PollAckSent)
	reply1 = TimestampDelta(x.PollAckSent, x.PollReceived)
	reply2 = TimestampDelta(x.RangeSent, x.PollAckReceived)
	return
}

// ComputeTimeOfFlight returns the one-way flight time in ticks:
//
//	(round1*round2 - reply1*reply2) / (round1 + round2 + reply1 + reply2)
//
// Clock offset between the two nodes cancels to first order.
func ComputeTimeOfFlight(x Exchange) (float64, error) {
	round1, round2, reply1, reply2 := x.Intervals()
	den := round1 + round2 + reply1 + reply2
	if den == 0 {
		return 0, ErrDegenerateExchange
	}
	num := float64(round1)*float64(round2) - float64(reply1)*float64(reply2)
	return num / float64(den), nil
}

// ComputeRange returns the distance in metres.
func ComputeRange(x Exchange) (float64, error) {
	tof, err := ComputeTimeOfFlight(x)
	if err != nil {
		return 0, err
	}
	return TicksToMeters(tof), nil
}
