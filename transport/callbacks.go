package transport

import (
	"fmt"

	"github.com/ystepanoff/uwbtwr/internal/util"
	proto "github.com/ystepanoff/uwbtwr/protocol"
)

// The On* methods are the radio's completion callbacks. They run in
// interrupt context on hardware: they never block and always leave the
// receiver armed.

func (s *Session) OnTxDone() {
	switch s.mode {
	case ModeTag:
		s.tagTxDone()
	case ModeAnchor:
		s.anchorTxDone()
	}
	s.armReceive()
}

func (s *Session) OnRxGood(info RxInfo) {
	s.rxSinceCheck++
	s.stats.FramesReceived.Add(1)
	defer s.armReceive()

	if info.DataLength <= 0 || info.DataLength > EventDataSize {
		s.malformed(fmt.Errorf("%w: length %d", proto.ErrMalformedFrame, info.DataLength))
		return
	}
	data := s.rxBuf[:info.DataLength]
	s.radio.ReadRxPayload(data, 0)
	if data[0] != info.FrameControl {
		s.malformed(fmt.Errorf("%w: frame control 0x%02X does not match descriptor 0x%02X",
			proto.ErrMalformedFrame, data[0], info.FrameControl))
		return
	}
	rxTime := s.rxTimestamp()

	switch s.mode {
	case ModeTag:
		s.tagReceive(data, rxTime)
	case ModeAnchor:
		s.anchorReceive(data, rxTime)
	default:
		s.stats.Ignored.Add(1)
	}
}

func (s *Session) OnRxError(info RxInfo) {
	s.stats.RxErrors.Add(1)
	util.LogDebug("%s rx error (fc=0x%02X len=%d)", s.prefix, info.FrameControl, info.DataLength)
	s.armReceive()
}

func (s *Session) OnRxTimeout(info RxInfo) {
	s.stats.RxTimeouts.Add(1)
	util.LogDebug("%s rx timeout", s.prefix)
	s.armReceive()
}

// rxTimestamp reads the receive timestamp of the frame just delivered,
// corrected for range bias when enabled.
func (s *Session) rxTimestamp() uint64 {
	raw := s.radio.ReadRxTimestamp()
	ts := proto.TimestampFromBytes(raw[:])
	if s.bias != nil {
		ts = s.bias.CorrectRxTimestamp(ts) & proto.Mask40
	}
	return ts
}

func (s *Session) addressedToMe(dst proto.ShortAddr) bool {
	return dst == s.cfg.ShortAddr || dst.IsBroadcast()
}

func (s *Session) malformed(err error) {
	s.stats.Malformed.Add(1)
	util.LogDebug("%s dropped frame: %v", s.prefix, err)
}
