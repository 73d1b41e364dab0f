//go:build !tinygo && !baremetal

package stub

import (
	"fmt"
	"math"

	"github.com/zhangyunhao116/skipmap"

	proto "github.com/ystepanoff/uwbtwr/protocol"
	"github.com/ystepanoff/uwbtwr/transport"
)

// DefaultAirTimeUS is how long a frame occupies the air, from the ranging
// marker to the end of the payload.
const DefaultAirTimeUS = 150

// Handler receives the completion events of a node's radio.
// *transport.Session implements it.
type Handler interface {
	OnTxDone()
	OnRxGood(transport.RxInfo)
	OnRxError(transport.RxInfo)
	OnRxTimeout(transport.RxInfo)
}

// Position is a point in metres.
type Position struct {
	X, Y, Z float64
}

func (p Position) Distance(q Position) float64 {
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// NodeConfig describes one simulated radio.
type NodeConfig struct {
	Name     string
	Position Position

	// ClockOffset is the value of the node's 40-bit clock at simulation
	// start. DriftPPM is its rate error against true time.
	ClockOffset uint64
	DriftPPM    float64
	// TickOffset is the value of the millisecond tick counter at start.
	TickOffset uint32

	AntennaDelay uint16
	// RxBias is added to every receive timestamp and removed again by
	// CorrectRxTimestamp.
	RxBias int64
	// RxTimeoutUS closes the receiver when nothing arrives in time. Zero
	// keeps it open.
	RxTimeoutUS uint32
}

type radioState uint8

const (
	stateIdle radioState = iota
	stateListening
	stateTransmitting
)

type eventKind uint8

const (
	evEmit eventKind = iota
	evTxDone
	evArrive
	evRxDone
	evRxTimeout
	evRxError
)

type airEvent struct {
	kind  eventKind
	node  *Node
	epoch uint64
	token uint64
	frame []byte
	stamp uint64
}

type eventKey struct {
	at  uint64
	seq uint64
}

// Medium is a simulated shared channel. Time is kept in true radio ticks;
// every node sees it through its own offset and drifting 40-bit clock.
// Frames reach each other node after the line-of-sight flight time and are
// received when that node is listening at the moment of arrival.
//
// Medium is single-threaded: Run/Advance and the sessions' loops must be
// called from one goroutine.
type Medium struct {
	now     uint64
	seq     uint64
	airtime uint64
	events  *skipmap.FuncMap[eventKey, *airEvent]
	nodes   []*Node

	delivered uint64
	lost      uint64
}

func NewMedium() *Medium {
	return &Medium{
		airtime: proto.MicrosecondsToTicks(DefaultAirTimeUS),
		events: skipmap.NewFunc[eventKey, *airEvent](func(a, b eventKey) bool {
			if a.at != b.at {
				return a.at < b.at
			}
			return a.seq < b.seq
		}),
	}
}

// SetAirTime changes the frame duration used for every later transmission.
func (m *Medium) SetAirTime(us uint32) { m.airtime = proto.MicrosecondsToTicks(us) }

// AddNode attaches a new radio to the medium.
func (m *Medium) AddNode(cfg NodeConfig) *Node {
	n := &Node{m: m, cfg: cfg}
	m.nodes = append(m.nodes, n)
	return n
}

func (m *Medium) Nodes() []*Node { return m.nodes }

// Now returns true time in radio ticks since the simulation started.
func (m *Medium) Now() uint64 { return m.now }

// Delivered and Lost count frame receptions that completed or were missed
// because the receiver was not listening.
func (m *Medium) Delivered() uint64 { return m.delivered }
func (m *Medium) Lost() uint64      { return m.lost }

// Pending returns the number of scheduled air events.
func (m *Medium) Pending() int { return m.events.Len() }

// Advance moves time forward by d ticks, delivering every event due.
func (m *Medium) Advance(d uint64) { m.RunUntil(m.now + d) }

// RunUntil delivers events in time order up to and including t.
func (m *Medium) RunUntil(t uint64) {
	for {
		key, ev, ok := m.next()
		if !ok || key.at > t {
			break
		}
		m.events.Delete(key)
		m.now = key.at
		m.dispatch(ev)
	}
	if t > m.now {
		m.now = t
	}
}

// Run advances to until in steps of pass ticks and calls step after each
// one. It stops at the first error step returns.
func (m *Medium) Run(until, pass uint64, step func() error) error {
	if pass == 0 {
		return fmt.Errorf("stub: zero pass length")
	}
	for m.now < until {
		m.Advance(pass)
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Medium) next() (eventKey, *airEvent, bool) {
	var (
		key eventKey
		ev  *airEvent
		ok  bool
	)
	m.events.Range(func(k eventKey, v *airEvent) bool {
		key, ev, ok = k, v, true
		return false
	})
	return key, ev, ok
}

func (m *Medium) schedule(at uint64, ev *airEvent) {
	if at < m.now {
		at = m.now
	}
	m.seq++
	m.events.Store(eventKey{at: at, seq: m.seq}, ev)
}

// flightTicks is the line-of-sight propagation time between two nodes.
func (m *Medium) flightTicks(a, b *Node) uint64 {
	return uint64(math.Round(a.cfg.Position.Distance(b.cfg.Position) * proto.TicksPerMeter))
}

func (m *Medium) dispatch(ev *airEvent) {
	n := ev.node
	switch ev.kind {
	case evEmit:
		if ev.epoch != n.epoch {
			return // forced idle before the delayed start
		}
		for _, other := range m.nodes {
			if other != n {
				m.schedule(m.now+m.flightTicks(n, other), &airEvent{kind: evArrive, node: other, frame: ev.frame})
			}
		}
		m.schedule(m.now+m.airtime, &airEvent{kind: evTxDone, node: n, epoch: n.epoch})

	case evTxDone:
		if ev.epoch != n.epoch {
			return
		}
		n.state = stateIdle
		if n.handler != nil {
			n.handler.OnTxDone()
		}

	case evArrive:
		if n.state != stateListening {
			m.lost++
			return
		}
		stamp := (n.localAt(m.now) + uint64(n.cfg.RxBias)) & proto.Mask40
		m.schedule(m.now+m.airtime, &airEvent{kind: evRxDone, node: n, epoch: n.epoch, frame: ev.frame, stamp: stamp})

	case evRxDone:
		if ev.epoch != n.epoch {
			m.lost++
			return
		}
		n.state = stateIdle
		n.token++
		n.rxFrame = ev.frame
		n.rxStamp = ev.stamp
		m.delivered++
		if n.handler != nil {
			n.handler.OnRxGood(transport.RxInfo{FrameControl: ev.frame[0], DataLength: len(ev.frame)})
		}

	case evRxTimeout:
		if ev.epoch != n.epoch || ev.token != n.token || n.state != stateListening {
			return
		}
		n.state = stateIdle
		if n.handler != nil {
			n.handler.OnRxTimeout(transport.RxInfo{})
		}

	case evRxError:
		if n.state != stateListening {
			return
		}
		n.state = stateIdle
		n.token++
		if n.handler != nil {
			n.handler.OnRxError(transport.RxInfo{})
		}
	}
}

// Node is one radio on a Medium. It implements transport.RadioDriver,
// transport.BiasCorrector and transport.TickSource.
type Node struct {
	m       *Medium
	cfg     NodeConfig
	handler Handler

	state radioState
	epoch uint64 // bumped when the receiver is interrupted
	token uint64 // bumped on every arm or completed reception

	payload [proto.StandardFrameSize]byte
	txLen   int
	delayed uint32
	txStamp uint64

	rxFrame []byte
	rxStamp uint64
}

var (
	_ transport.RadioDriver   = (*Node)(nil)
	_ transport.BiasCorrector = (*Node)(nil)
	_ transport.TickSource    = (*Node)(nil)
)

// Attach routes the node's radio events to h.
func (n *Node) Attach(h Handler) { n.handler = h }

func (n *Node) Name() string { return n.cfg.Name }

func (n *Node) Position() Position { return n.cfg.Position }

// Listening reports whether the receiver is open.
func (n *Node) Listening() bool { return n.state == stateListening }

// localAt returns the node's clock at true time g, before the 40-bit wrap.
func (n *Node) localAt(g uint64) uint64 {
	return g + uint64(int64(math.Round(float64(g)*n.cfg.DriftPPM*1e-6))) + n.cfg.ClockOffset
}

// globalOf inverts localAt.
func (n *Node) globalOf(local uint64) uint64 {
	return uint64(math.Round(float64(local-n.cfg.ClockOffset) / (1 + n.cfg.DriftPPM*1e-6)))
}

// Ticks is the node's millisecond counter.
func (n *Node) Ticks() uint32 { return uint32(n.m.now/proto.TicksPerMS) + n.cfg.TickOffset }

// InjectRxError makes the receiver report a corrupted frame now.
func (n *Node) InjectRxError() { n.m.schedule(n.m.now, &airEvent{kind: evRxError, node: n}) }

func (n *Node) ForceIdle() {
	n.state = stateIdle
	n.epoch++
	n.token++
}

func (n *Node) WriteTxPayload(data []byte, offset int) error {
	if offset < 0 || offset+len(data) > len(n.payload) {
		return fmt.Errorf("%w: %d bytes at offset %d", proto.ErrBufferTooSmall, len(data), offset)
	}
	copy(n.payload[offset:], data)
	return nil
}

func (n *Node) WriteTxControl(length, offset int, ranging bool) { n.txLen = offset + length }

func (n *Node) SetDelayedTxTime(t uint32) { n.delayed = t }

// StartTx schedules the loaded frame. A delayed start is snapped to the
// radio's 512-tick resolution and refused when the target is not ahead of
// the node's clock.
func (n *Node) StartTx(mode transport.TxMode) error {
	if n.state == stateTransmitting {
		return transport.ErrRadioBusy
	}
	local := n.localAt(n.m.now)
	chip := local
	if mode == transport.TxDelayed {
		target := (uint64(n.delayed) << 8) & proto.MaskTxDelayed
		ahead := (target - local) & proto.Mask40
		if ahead == 0 || ahead >= proto.TimeOverflow/2 {
			n.state = stateIdle
			return fmt.Errorf("%w: target %#010x, clock %#010x", transport.ErrLateTransmit, target, local&proto.Mask40)
		}
		chip = local + ahead
	}
	stamp := chip + uint64(n.cfg.AntennaDelay)
	n.txStamp = stamp & proto.Mask40
	n.epoch++
	n.token++
	n.state = stateTransmitting
	frame := append([]byte(nil), n.payload[:n.txLen]...)
	n.m.schedule(n.globalOf(stamp), &airEvent{kind: evEmit, node: n, epoch: n.epoch, frame: frame})
	return nil
}

func (n *Node) ReadTxTimestamp() [5]byte { return proto.TimestampBytes(n.txStamp) }

func (n *Node) ReadRxTimestamp() [5]byte { return proto.TimestampBytes(n.rxStamp) }

func (n *Node) ReadRxPayload(buf []byte, offset int) {
	if offset < len(n.rxFrame) {
		copy(buf, n.rxFrame[offset:])
	}
}

func (n *Node) ReadSystemTime() [5]byte { return proto.TimestampBytes(n.localAt(n.m.now)) }

// ArmReceive opens the receiver immediately; the delayed form is not
// modelled.
func (n *Node) ArmReceive(delayed bool, at uint32) error {
	if n.state == stateTransmitting {
		return transport.ErrRadioBusy
	}
	n.state = stateListening
	n.token++
	if n.cfg.RxTimeoutUS > 0 {
		n.m.schedule(n.m.now+proto.MicrosecondsToTicks(n.cfg.RxTimeoutUS),
			&airEvent{kind: evRxTimeout, node: n, epoch: n.epoch, token: n.token})
	}
	return nil
}

func (n *Node) CorrectRxTimestamp(raw uint64) uint64 {
	return (raw - uint64(n.cfg.RxBias)) & proto.Mask40
}
