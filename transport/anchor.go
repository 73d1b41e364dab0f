package transport

import (
	"github.com/ystepanoff/uwbtwr/internal/util"
	proto "github.com/ystepanoff/uwbtwr/protocol"
)

// RunAnchorLoop runs one pass of the anchor: periodic liveness sweep and
// receive watchdog, then the deferred work queued by the RX callback.
func (s *Session) RunAnchorLoop() {
	s.begin()
	now := s.clock.Ticks()

	if elapsed(now, s.nextDevCheck) {
		s.sweep(now)
		// Nothing heard for a whole interval: the receiver may have been
		// left off by a lost callback.
		if s.rxSinceCheck == 0 {
			s.armReceive()
		}
		s.rxSinceCheck = 0
		s.nextDevCheck = s.clock.Ticks() + s.cfg.CheckInterval
	}

	s.events.Drain(s.processEvent)
}

func (s *Session) processEvent(ev Event) {
	switch ev.Type {
	case SendRangeInit:
		s.handleBlink(&ev)
	case SendPollAck:
		s.handlePoll(&ev)
	case SendFinal:
		s.handleRange(&ev)
	}
}

// anchorReceive classifies a frame in RX callback context and defers the
// work to the loop.
func (s *Session) anchorReceive(data []byte, rxTime uint64) {
	t, err := proto.PeekType(data)
	if err != nil {
		s.malformed(err)
		return
	}
	ev := Event{Length: len(data), Timestamp: rxTime}
	switch t {
	case proto.TypeBlink:
		ev.Type = SendRangeInit
	case proto.TypePoll:
		ev.Type = SendPollAck
	case proto.TypeRange:
		ev.Type = SendFinal
	default:
		s.stats.Ignored.Add(1)
		return
	}
	copy(ev.Data[:], data)
	if !s.events.Enqueue(ev) {
		util.LogWarning("%s event queue full, %s dropped", s.prefix, ev.Type)
	}
}

// handleBlink admits a newly heard tag and invites it with a RangingInit
// that echoes the blink's sequence number.
func (s *Session) handleBlink(ev *Event) {
	b, err := proto.DecodeBlink(ev.Payload())
	if err != nil {
		s.malformed(err)
		return
	}
	switch s.registry.Admit(b.Short, b.EUI, s.clock.Ticks()) {
	case AlreadyPresent:
		return
	case Full:
		s.stats.RegistryFull.Add(1)
		util.LogDebug("%s registry full, tag %s not tracked", s.prefix, b.Short)
		return
	}
	s.stats.Admissions.Add(1)
	util.LogInfo("%s tag %s (%s) joined (%d active)", s.prefix, b.Short, b.EUI, s.registry.ActiveCount())

	f := proto.RangingInit{
		Header: proto.Header{Seq: b.Seq, Dst: b.Short, Src: s.cfg.ShortAddr},
		Short:  s.cfg.ShortAddr,
		EUI:    s.cfg.EUI,
	}
	n, err := proto.EncodeRangingInit(s.txBuf[:], &f)
	if err != nil {
		util.LogError("%s encode ranging init: %v", s.prefix, err)
		return
	}
	if s.transmit(s.txBuf[:n], StepRangeInitSending, false, TxImmediate, 0) {
		util.LogDebug("%s ranging init to %s", s.prefix, b.Short)
	}
}

// handlePoll answers a Poll that names this anchor, after the reply delay of
// its slot.
func (s *Session) handlePoll(ev *Event) {
	p, err := proto.DecodePoll(ev.Payload())
	if err != nil {
		s.malformed(err)
		return
	}
	if !p.Dst.IsBroadcast() {
		s.stats.Ignored.Add(1)
		return
	}
	delayUS, ok := p.SlotFor(s.cfg.ShortAddr)
	if !ok {
		s.stats.Ignored.Add(1)
		return
	}
	i, ok := s.registry.FindByShortAddr(p.Src)
	if !ok {
		s.stats.Ignored.Add(1)
		return
	}
	s.registry.Touch(i, s.clock.Ticks())

	d := s.registry.Device(i)
	d.PollReceived = ev.Timestamp
	d.DeltaTime = proto.MicrosecondsToTicks(uint32(delayUS))
	d.PollAckSent = (d.PollReceived + d.DeltaTime) & proto.Mask40
	d.DelayedTxTime = proto.DelayedTxRegister(d.PollAckSent)
	s.lastTag = i

	f := proto.PollAck{Header: proto.Header{Seq: s.nextRangeSeq(), Dst: d.Short, Src: s.cfg.ShortAddr}}
	n, err := proto.EncodePollAck(s.txBuf[:], &f)
	if err != nil {
		util.LogError("%s encode poll ack: %v", s.prefix, err)
		return
	}
	if s.transmit(s.txBuf[:n], StepPollAckPulled, true, TxDelayed, d.DelayedTxTime) {
		util.LogDebug("%s poll ack seq=%d to %s", s.prefix, f.Seq, d.Short)
	}
}

// handleRange completes an exchange: it collects the tag's timestamps for
// this anchor, computes the distance and reports it back in a Final.
func (s *Session) handleRange(ev *Event) {
	r, err := proto.DecodeRange(ev.Payload())
	if err != nil {
		s.malformed(err)
		return
	}
	if !r.Dst.IsBroadcast() {
		s.stats.Ignored.Add(1)
		return
	}
	i, ok := s.registry.FindByShortAddr(r.Src)
	if !ok {
		s.stats.Ignored.Add(1)
		return
	}
	ackReceived, ok := r.EntryFor(s.cfg.ShortAddr)
	if !ok {
		s.stats.Ignored.Add(1)
		return
	}
	now := s.clock.Ticks()
	s.registry.Touch(i, now)

	d := s.registry.Device(i)
	d.RangeReceived = ev.Timestamp
	d.PollSent = r.PollSent
	d.RangeSent = r.RangeSent
	d.PollAckReceived = ackReceived

	dist, err := proto.ComputeRange(d.Exchange())
	if err != nil {
		s.stats.RangeFailures.Add(1)
		util.LogWarning("%s range to %s: %v", s.prefix, d.Short, err)
		return
	}
	d.Range = float32(dist)
	s.stats.RangesComputed.Add(1)
	s.report(RangeReport{
		Reporter: s.cfg.ShortAddr,
		Tag:      d.Short,
		Anchor:   s.cfg.ShortAddr,
		Range:    d.Range,
		Seq:      r.Seq,
		Tick:     now,
	})

	s.lastTag = i
	d.FinalSent = (d.RangeReceived + d.DeltaTime) & proto.Mask40
	d.DelayedTxTime = proto.DelayedTxRegister(d.FinalSent)
	f := proto.Final{
		Header: proto.Header{Seq: s.nextRangeSeq(), Dst: d.Short, Src: s.cfg.ShortAddr},
		Target: d.Short,
		Range:  d.Range,
	}
	n, err := proto.EncodeFinal(s.txBuf[:], &f)
	if err != nil {
		util.LogError("%s encode final: %v", s.prefix, err)
		return
	}
	if s.transmit(s.txBuf[:n], StepFinalPulled, true, TxDelayed, d.DelayedTxTime) {
		util.LogDebug("%s final %.3f m to %s", s.prefix, d.Range, d.Short)
	}
}

// anchorTxDone advances the anchor step after a completed transmission.
func (s *Session) anchorTxDone() {
	switch s.step {
	case StepPollAckPulled:
		s.step = StepPollAckSent
		if s.lastTag >= 0 {
			ts := s.radio.ReadTxTimestamp()
			s.registry.Device(s.lastTag).PollAckSent = proto.TimestampFromBytes(ts[:])
		}
	case StepFinalPulled:
		s.step = StepIdle
		if s.lastTag >= 0 {
			ts := s.radio.ReadTxTimestamp()
			s.registry.Device(s.lastTag).FinalSent = proto.TimestampFromBytes(ts[:])
		}
	case StepRangeInitSending:
		s.step = StepIdle
	}
}
