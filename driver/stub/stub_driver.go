//go:build !tinygo && !baremetal

package stub

import (
	"fmt"
	"sync"

	proto "github.com/ystepanoff/uwbtwr/protocol"
	"github.com/ystepanoff/uwbtwr/transport"
)

// TxRecord is one frame handed to StartTx.
type TxRecord struct {
	Frame     []byte
	Mode      transport.TxMode
	DelayedAt uint32 // register value, only meaningful for TxDelayed
	Ranging   bool
}

// Driver is a scripted radio for host-side tests. Tests load a received
// frame with LoadRx, invoke the session callbacks themselves and inspect
// what was transmitted with TxLog.
type Driver struct {
	mu sync.Mutex

	payload [proto.StandardFrameSize]byte
	txLen   int
	ranging bool
	delayed uint32

	rxFrame []byte
	rxTime  uint64
	txTime  uint64
	sysTime uint64

	armed    bool
	arms     int
	idles    int
	failNext error
	txLog    ringBuffer
}

var _ transport.RadioDriver = (*Driver)(nil)

func New() *Driver { return &Driver{} }

func (d *Driver) ForceIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	d.idles++
}

func (d *Driver) WriteTxPayload(data []byte, offset int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || offset+len(data) > len(d.payload) {
		return fmt.Errorf("%w: %d bytes at offset %d", proto.ErrBufferTooSmall, len(data), offset)
	}
	copy(d.payload[offset:], data)
	return nil
}

func (d *Driver) WriteTxControl(length, offset int, ranging bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txLen = offset + length
	d.ranging = ranging
}

func (d *Driver) SetDelayedTxTime(t uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delayed = t
}

func (d *Driver) StartTx(mode transport.TxMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failNext; err != nil {
		d.failNext = nil
		return err
	}
	frame := make([]byte, d.txLen)
	copy(frame, d.payload[:d.txLen])
	rec := TxRecord{Frame: frame, Mode: mode, Ranging: d.ranging}
	if mode == transport.TxDelayed {
		rec.DelayedAt = d.delayed
	}
	d.txLog.push(rec)
	d.armed = false
	return nil
}

func (d *Driver) ReadTxTimestamp() [5]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return proto.TimestampBytes(d.txTime)
}

func (d *Driver) ReadRxTimestamp() [5]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return proto.TimestampBytes(d.rxTime)
}

func (d *Driver) ReadRxPayload(buf []byte, offset int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < len(d.rxFrame) {
		copy(buf, d.rxFrame[offset:])
	}
}

func (d *Driver) ReadSystemTime() [5]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return proto.TimestampBytes(d.sysTime)
}

func (d *Driver) ArmReceive(delayed bool, at uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	d.arms++
	return nil
}

// LoadRx stages a received frame and its timestamp and returns the
// descriptor to pass to OnRxGood.
func (d *Driver) LoadRx(frame []byte, rxTime uint64) transport.RxInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxFrame = append(d.rxFrame[:0], frame...)
	d.rxTime = rxTime & proto.Mask40
	info := transport.RxInfo{DataLength: len(frame)}
	if len(frame) > 0 {
		info.FrameControl = frame[0]
	}
	return info
}

// SetTxTimestamp sets what the next ReadTxTimestamp returns.
func (d *Driver) SetTxTimestamp(ts uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txTime = ts & proto.Mask40
}

func (d *Driver) SetSystemTime(ts uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sysTime = ts & proto.Mask40
}

// FailNextTx makes the next StartTx return err.
func (d *Driver) FailNextTx(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = err
}

func (d *Driver) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// ArmCount returns how many times receive was armed.
func (d *Driver) ArmCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arms
}

// IdleCount returns how many times the radio was forced idle.
func (d *Driver) IdleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idles
}

func (d *Driver) TxLog() []TxRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txLog.snapshot()
}

// LastTx returns the most recent transmission.
func (d *Driver) LastTx() (TxRecord, bool) {
	log := d.TxLog()
	if len(log) == 0 {
		return TxRecord{}, false
	}
	return log[len(log)-1], true
}

func (d *Driver) ClearTxLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txLog = ringBuffer{}
}

const ringCapacity = 64

type ringBuffer struct {
	data       [ringCapacity]TxRecord
	head, tail int // head = oldest, tail = next push
	count      int
}

func (rb *ringBuffer) push(rec TxRecord) {
	if rb.count == ringCapacity {
		// Overwrite the oldest when buffer is full to keep memory bounded
		rb.data[rb.tail] = TxRecord{}
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = rec
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) snapshot() []TxRecord {
	out := make([]TxRecord, rb.count)
	i := rb.head
	for c := 0; c < rb.count; c++ {
		r := rb.data[i]
		r.Frame = append([]byte(nil), r.Frame...)
		out[c] = r
		i = (i + 1) % ringCapacity
	}
	return out
}
