package transport

import (
	"github.com/ystepanoff/uwbtwr/internal/util"
	proto "github.com/ystepanoff/uwbtwr/protocol"
)

// RunTagLoop runs one pass of the tag schedule: poll the known anchors,
// send the Range once they answered (or the reply window closed), and blink
// for discovery.
func (s *Session) RunTagLoop() {
	s.begin()
	now := s.clock.Ticks()

	if elapsed(now, s.nextPoll) {
		s.sweep(now)
		if s.registry.ActiveCount() > 0 {
			s.sendPoll()
			now = s.clock.Ticks()
			s.nextRanging = now + 2*uint32(s.polled)*uint32(s.cfg.ReplyDelayUS)/1000
			s.holdBlink(now)
		}
		s.nextPoll = s.clock.Ticks() + s.cfg.PollInterval
	}

	if s.ackCount > 0 && (s.ackCount >= s.polled || elapsed(now, s.nextRanging)) {
		s.sendRange()
		s.ackCount = 0
		now = s.clock.Ticks()
		s.nextRanging = now + proto.RangingIdleDeadline
		s.holdBlink(now)
	}

	if elapsed(now, s.nextBlink) {
		s.nextBlink = now + s.cfg.BlinkInterval
		s.sendBlink()
	}
}

// holdBlink keeps discovery off the air while anchors are replying.
func (s *Session) holdBlink(now uint32) {
	if int32(s.nextBlink-now) < proto.MinBlinkAfterPoll {
		s.nextBlink = now + proto.MinBlinkAfterPoll
	}
}

func (s *Session) sendBlink() {
	b := proto.Blink{Seq: s.blinkSeq, EUI: s.cfg.EUI, Short: s.cfg.ShortAddr}
	n, err := proto.EncodeBlink(s.txBuf[:], &b)
	if err != nil {
		util.LogError("%s encode blink: %v", s.prefix, err)
		return
	}
	if s.transmit(s.txBuf[:n], StepBlinkSending, false, TxImmediate, 0) {
		s.blinkSeq++
	}
}

// sendPoll broadcasts a Poll naming every active anchor. Slot order is
// registry order and fixes each anchor's reply delay.
func (s *Session) sendPoll() {
	p := proto.Poll{Header: proto.Header{Dst: proto.BroadcastAddr, Src: s.cfg.ShortAddr}}
	s.registry.ForEachActive(func(i int, d *proto.Device) bool {
		p.Slots[p.Count] = proto.PollSlot{
			Addr:         d.Short,
			ReplyDelayUS: s.cfg.ReplyDelayUS * uint16(2*p.Count+1),
		}
		p.Count++
		return true
	})
	s.acked = [proto.MaxDevices]bool{}
	s.ackCount = 0
	s.polled = p.Count

	p.Seq = s.nextRangeSeq()
	n, err := proto.EncodePoll(s.txBuf[:], &p)
	if err != nil {
		util.LogError("%s encode poll: %v", s.prefix, err)
		return
	}
	if s.transmit(s.txBuf[:n], StepPollSending, true, TxImmediate, 0) {
		util.LogDebug("%s poll seq=%d to %d anchor(s)", s.prefix, p.Seq, p.Count)
	}
}

// sendRange broadcasts the tag's timestamps to the anchors that acked this
// cycle. The frame goes out at a fixed delay after the current system time
// so its own transmit time can be written into it beforehand.
func (s *Session) sendRange() {
	r := proto.Range{
		Header:   proto.Header{Dst: proto.BroadcastAddr, Src: s.cfg.ShortAddr},
		PollSent: s.pollSent,
	}
	s.registry.ForEachActive(func(i int, d *proto.Device) bool {
		if s.acked[i] {
			r.Entries[r.Count] = proto.RangeEntry{Addr: d.Short, PollAckReceived: d.PollAckReceived}
			r.Count++
		}
		return true
	})

	r.Seq = s.nextRangeSeq()
	n, err := proto.EncodeRange(s.txBuf[:], &r)
	if err != nil {
		util.LogError("%s encode range: %v", s.prefix, err)
		return
	}

	sys := s.radio.ReadSystemTime()
	t := (proto.TimestampFromBytes(sys[:]) + proto.MicrosecondsToTicks(s.cfg.RangeDelayUS)) & proto.Mask40
	at := proto.DelayedTxRegister(t)
	sent := ((t & proto.MaskTxDelayed) + uint64(s.cfg.TxAntennaDelay)) & proto.Mask40
	proto.PutRangeSent(s.txBuf[:n], sent)
	s.rangeSent = sent

	s.registry.ForEachActive(func(i int, d *proto.Device) bool {
		if s.acked[i] {
			d.PollSent = s.pollSent
			d.RangeSent = sent
		}
		return true
	})

	if s.transmit(s.txBuf[:n], StepRangePulled, true, TxDelayed, at) {
		util.LogDebug("%s range seq=%d to %d anchor(s)", s.prefix, r.Seq, r.Count)
	}
}

// tagReceive handles a frame in RX callback context. The tag does all of its
// receive work here; nothing is deferred.
func (s *Session) tagReceive(data []byte, rxTime uint64) {
	t, err := proto.PeekType(data)
	if err != nil {
		s.malformed(err)
		return
	}
	now := s.clock.Ticks()

	switch t {
	case proto.TypeRangingInit:
		f, err := proto.DecodeRangingInit(data)
		if err != nil {
			s.malformed(err)
			return
		}
		if !s.addressedToMe(f.Dst) {
			s.stats.Ignored.Add(1)
			return
		}
		switch s.registry.Admit(f.Short, f.EUI, now) {
		case Admitted:
			s.stats.Admissions.Add(1)
			util.LogInfo("%s anchor %s joined (%d active)", s.prefix, f.Short, s.registry.ActiveCount())
		case Full:
			s.stats.RegistryFull.Add(1)
			util.LogWarning("%s registry full, anchor %s not tracked", s.prefix, f.Short)
		case AlreadyPresent:
		}

	case proto.TypePollAck:
		f, err := proto.DecodePollAck(data)
		if err != nil {
			s.malformed(err)
			return
		}
		i, ok := s.registry.FindByShortAddr(f.Src)
		if !ok || !s.addressedToMe(f.Dst) {
			s.stats.Ignored.Add(1)
			return
		}
		s.registry.Device(i).PollAckReceived = rxTime
		s.registry.Touch(i, now)
		if !s.acked[i] {
			s.acked[i] = true
			s.ackCount++
		}

	case proto.TypeFinal:
		f, err := proto.DecodeFinal(data)
		if err != nil {
			s.malformed(err)
			return
		}
		if f.Target != s.cfg.ShortAddr {
			s.stats.Ignored.Add(1)
			return
		}
		if i, ok := s.registry.FindByShortAddr(f.Src); ok {
			s.registry.Device(i).Range = f.Range
			s.registry.Touch(i, now)
		}
		s.stats.FinalsReceived.Add(1)
		s.report(RangeReport{
			Reporter: s.cfg.ShortAddr,
			Tag:      s.cfg.ShortAddr,
			Anchor:   f.Src,
			Range:    f.Range,
			Seq:      f.Seq,
			Tick:     now,
		})

	default:
		s.stats.Ignored.Add(1)
	}
}

// tagTxDone advances the tag step after a completed transmission.
func (s *Session) tagTxDone() {
	switch s.step {
	case StepBlinkSending:
		s.step = StepIdle
	case StepPollSending:
		s.step = StepPollSent
		ts := s.radio.ReadTxTimestamp()
		s.pollSent = proto.TimestampFromBytes(ts[:])
	case StepRangePulled:
		s.step = StepRangeSent
	}
}
