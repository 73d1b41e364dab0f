package transport

// TxMode selects how StartTx launches the frame loaded by WriteTxPayload.
type TxMode uint8

const (
	TxImmediate TxMode = iota
	TxDelayed
)

// RxInfo is the receive descriptor handed to the RX callbacks.
type RxInfo struct {
	FrameControl byte
	DataLength   int
}

// RadioDriver is the interface that wraps the transceiver operations the
// ranging session needs. Implementations deliver completion events through
// the Session's On* callbacks.
type RadioDriver interface {
	ForceIdle()
	WriteTxPayload(data []byte, offset int) error
	WriteTxControl(length, offset int, ranging bool)
	StartTx(mode TxMode) error
	// SetDelayedTxTime takes bits 8..39 of the 40-bit target time.
	SetDelayedTxTime(t uint32)
	ReadTxTimestamp() [5]byte
	ReadRxTimestamp() [5]byte
	ReadRxPayload(buf []byte, offset int)
	ReadSystemTime() [5]byte
	ArmReceive(delayed bool, at uint32) error
}

// BiasCorrector is implemented by drivers that can adjust a receive
// timestamp for signal-level dependent range bias.
type BiasCorrector interface {
	CorrectRxTimestamp(raw uint64) uint64
}

// TickSource is the free-running millisecond counter used for scheduling
// and liveness. It wraps at 2^32.
type TickSource interface {
	Ticks() uint32
}

// TickFunc adapts a plain function to TickSource.
type TickFunc func() uint32

func (f TickFunc) Ticks() uint32 { return f() }
