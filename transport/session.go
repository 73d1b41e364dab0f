package transport

import (
	"errors"
	"fmt"

	"github.com/ystepanoff/uwbtwr/internal/util"
	proto "github.com/ystepanoff/uwbtwr/protocol"
)

// Config holds the per-node parameters of a ranging session. Intervals are
// milliseconds of the TickSource, delays microseconds of air time.
type Config struct {
	ShortAddr proto.ShortAddr
	EUI       proto.EUI64

	// ReplyDelayUS is the base PollAck delay; slot i replies after
	// ReplyDelayUS*(2i+1).
	ReplyDelayUS uint16
	// RangeDelayUS is how far ahead of the current system time the tag
	// schedules its Range frame.
	RangeDelayUS uint32

	BlinkInterval uint32
	PollInterval  uint32
	CheckInterval uint32
	DeviceTimeout uint32

	// TxAntennaDelay is added to the predicted range-sent timestamp so it
	// matches what the radio stamps at the antenna.
	TxAntennaDelay uint16
	// CorrectRangeBias routes RX timestamps through the driver's
	// BiasCorrector when it has one.
	CorrectRangeBias bool
}

// DefaultConfig returns the stock timing for a node with the given addresses.
func DefaultConfig(short proto.ShortAddr, eui proto.EUI64) Config {
	return Config{
		ShortAddr:     short,
		EUI:           eui,
		ReplyDelayUS:  proto.DefaultReplyDelayUS,
		RangeDelayUS:  proto.DefaultRangeDelayUS,
		BlinkInterval: proto.BlinkInterval,
		PollInterval:  proto.PollInterval,
		CheckInterval: proto.CheckDeviceInterval,
		DeviceTimeout: proto.DeviceTimeout,
	}
}

// Validate checks the values a session cannot run with.
func (c Config) Validate() error {
	switch {
	case c.ShortAddr.IsBroadcast():
		return fmt.Errorf("%w: short address %s is the broadcast address", ErrInvalidConfig, c.ShortAddr)
	case c.ReplyDelayUS == 0:
		return fmt.Errorf("%w: reply delay must be positive", ErrInvalidConfig)
	case uint32(c.ReplyDelayUS)*(2*proto.MaxDevices-1) > 0xFFFF:
		return fmt.Errorf("%w: reply delay %dus overflows the last poll slot", ErrInvalidConfig, c.ReplyDelayUS)
	case c.RangeDelayUS == 0:
		return fmt.Errorf("%w: range delay must be positive", ErrInvalidConfig)
	case c.BlinkInterval == 0 || c.PollInterval == 0 || c.CheckInterval == 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	case c.DeviceTimeout < c.PollInterval:
		return fmt.Errorf("%w: device timeout %dms is shorter than the poll interval %dms",
			ErrInvalidConfig, c.DeviceTimeout, c.PollInterval)
	}
	return nil
}

// RangeReport is one distance produced by an exchange: computed by the anchor,
// or carried to the tag in a Final.
type RangeReport struct {
	Reporter proto.ShortAddr `json:"reporter"`
	Tag      proto.ShortAddr `json:"tag"`
	Anchor   proto.ShortAddr `json:"anchor"`
	Range    float32         `json:"range_m"`
	Seq      uint8           `json:"seq"`
	Tick     uint32          `json:"tick"`
}

// Session is the ranging state of one radio. The radio callbacks (On*) and
// the loop (RunLoop) are the only entry points; they may interleave but never
// run in parallel.
type Session struct {
	cfg    Config
	radio  RadioDriver
	clock  TickSource
	bias   BiasCorrector
	mode   Mode
	prefix string

	started bool
	step    RangingStep

	registry Registry
	events   EventQueue
	stats    Stats

	blinkSeq uint8
	rangeSeq uint8

	// tag
	pollSent    uint64
	rangeSent   uint64
	polled      int
	ackCount    int
	acked       [proto.MaxDevices]bool
	nextBlink   uint32
	nextPoll    uint32
	nextRanging uint32

	// anchor
	lastTag      int
	nextDevCheck uint32
	rxSinceCheck uint32

	lastRange RangeReport
	hasRange  bool
	onRange   func(RangeReport)

	rxBuf [proto.StandardFrameSize]byte
	txBuf [proto.StandardFrameSize]byte
}

// NewSession builds a session around a radio. The role is set separately
// with SetMode before the first loop pass.
func NewSession(cfg Config, radio RadioDriver, clock TickSource) (*Session, error) {
	if radio == nil {
		return nil, ErrNoDriver
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: nil tick source", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		cfg:     cfg,
		radio:   radio,
		clock:   clock,
		lastTag: -1,
		prefix:  fmt.Sprintf("[%s]", cfg.ShortAddr),
	}
	if cfg.CorrectRangeBias {
		if bc, ok := radio.(BiasCorrector); ok {
			s.bias = bc
		} else {
			util.LogWarning("%s range bias correction requested but the driver has no corrector", s.prefix)
		}
	}
	s.InitDeviceRegistry()
	return s, nil
}

// SetMode picks the role. Once a loop pass has run the role is fixed.
func (s *Session) SetMode(m Mode) error {
	if m != ModeTag && m != ModeAnchor {
		return fmt.Errorf("%w: %d", ErrUnknownMode, m)
	}
	if s.started && m != s.mode {
		return ErrModeLocked
	}
	s.mode = m
	if m == ModeTag {
		s.prefix = fmt.Sprintf("[Tag %s]", s.cfg.ShortAddr)
	} else {
		s.prefix = fmt.Sprintf("[Anchor %s]", s.cfg.ShortAddr)
	}
	return nil
}

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) Config() Config { return s.cfg }

// InitDeviceRegistry forgets every peer, discards queued work and restarts
// the schedule from the current tick.
func (s *Session) InitDeviceRegistry() {
	s.registry.Init()
	s.events.Reset()
	now := s.clock.Ticks()
	s.nextBlink = now
	s.nextPoll = now
	s.nextDevCheck = now
	s.nextRanging = now + proto.RangingIdleDeadline
	s.step = StepIdle
	s.polled = 0
	s.ackCount = 0
	s.lastTag = -1
	s.rxSinceCheck = 0
}

// SetRangeHandler registers fn to receive every range the session produces.
// On the tag it runs in RX callback context and must not block.
func (s *Session) SetRangeHandler(fn func(RangeReport)) { s.onRange = fn }

// RunLoop runs one cooperative pass of the configured role.
func (s *Session) RunLoop() error {
	switch s.mode {
	case ModeTag:
		s.RunTagLoop()
	case ModeAnchor:
		s.RunAnchorLoop()
	default:
		return ErrNoMode
	}
	return nil
}

// begin opens the receiver on the first loop pass.
func (s *Session) begin() {
	if s.started {
		return
	}
	s.started = true
	util.LogInfo("%s ranging started", s.prefix)
	s.armReceive()
}

// elapsed reports whether the tick deadline has passed, tolerating a wrap
// of the 32-bit counter.
func elapsed(now, deadline uint32) bool { return int32(now-deadline) > 0 }

func (s *Session) sweep(now uint32) {
	if n := s.registry.SweepExpired(now, s.cfg.DeviceTimeout); n > 0 {
		s.stats.Evictions.Add(uint32(n))
		util.LogInfo("%s %d peer(s) timed out, %d active", s.prefix, n, s.registry.ActiveCount())
	}
}

func (s *Session) nextRangeSeq() uint8 {
	seq := s.rangeSeq
	s.rangeSeq++
	return seq
}

// transmit loads frame into the radio and starts it. A delayed transmit
// takes the high 32 bits of the 40-bit target time in at. It reports whether
// the radio accepted the frame; on failure the step falls back to idle, the
// failure is counted and logged, and receive is re-armed.
func (s *Session) transmit(frame []byte, step RangingStep, ranging bool, mode TxMode, at uint32) bool {
	s.radio.ForceIdle()
	if err := s.radio.WriteTxPayload(frame, 0); err != nil {
		s.txFailed(step, err)
		return false
	}
	s.radio.WriteTxControl(len(frame), 0, ranging)
	if mode == TxDelayed {
		s.radio.SetDelayedTxTime(at)
	}
	s.step = step
	if err := s.radio.StartTx(mode); err != nil {
		s.txFailed(step, err)
		return false
	}
	s.stats.FramesSent.Add(1)
	return true
}

func (s *Session) txFailed(step RangingStep, err error) {
	s.step = StepIdle
	s.stats.TxFailures.Add(1)
	if errors.Is(err, ErrLateTransmit) {
		s.stats.LateTransmits.Add(1)
	}
	util.LogWarning("%s %s abandoned: %v", s.prefix, step, err)
	s.armReceive()
}

func (s *Session) armReceive() {
	if err := s.radio.ArmReceive(false, 0); err != nil {
		util.LogDebug("%s receive not armed: %v", s.prefix, err)
		return
	}
	s.stats.ReceiveRearms.Add(1)
}

func (s *Session) report(r RangeReport) {
	s.lastRange = r
	s.hasRange = true
	if s.onRange != nil {
		s.onRange(r)
	}
}

// Registry exposes the peer table for inspection.
func (s *Session) Registry() *Registry { return &s.registry }

// Events exposes the deferred work queue for inspection.
func (s *Session) Events() *EventQueue { return &s.events }

func (s *Session) Step() RangingStep { return s.step }

func (s *Session) Stats() StatsSnapshot {
	st := s.stats.snapshot()
	st.QueueDrops = s.events.Dropped()
	return st
}

// Snapshot is a copy of the session state safe to hand to another goroutine.
type Snapshot struct {
	Mode          string          `json:"mode"`
	ShortAddr     proto.ShortAddr `json:"short_addr"`
	EUI           proto.EUI64     `json:"eui64"`
	Step          string          `json:"step"`
	Tick          uint32          `json:"tick"`
	BlinkSeq      uint8           `json:"blink_seq"`
	RangeSeq      uint8           `json:"range_seq"`
	ActiveCount   int             `json:"active_count"`
	Devices       []proto.Device  `json:"devices"`
	PendingEvents int             `json:"pending_events"`
	LastRange     *RangeReport    `json:"last_range,omitempty"`
	Stats         StatsSnapshot   `json:"stats"`
}

// LocalState returns a snapshot of the session. Call it from loop context.
func (s *Session) LocalState() Snapshot {
	snap := Snapshot{
		Mode:          s.mode.String(),
		ShortAddr:     s.cfg.ShortAddr,
		EUI:           s.cfg.EUI,
		Step:          s.step.String(),
		Tick:          s.clock.Ticks(),
		BlinkSeq:      s.blinkSeq,
		RangeSeq:      s.rangeSeq,
		ActiveCount:   s.registry.ActiveCount(),
		Devices:       s.registry.Snapshot(),
		PendingEvents: s.events.Len(),
		Stats:         s.Stats(),
	}
	if s.hasRange {
		r := s.lastRange
		snap.LastRange = &r
	}
	return snap
}
