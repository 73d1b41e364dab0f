//go:build !tinygo && !baremetal

package stub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proto "github.com/ystepanoff/uwbtwr/protocol"
	"github.com/ystepanoff/uwbtwr/transport"
)

func TestDriverWithSession(t *testing.T) {
	d := New()
	var tick uint32
	anchor := proto.ShortAddrFromUint16(0x0101)
	s, err := transport.NewSession(transport.DefaultConfig(anchor, proto.EUI64{1}), d, transport.TickFunc(func() uint32 { return tick }))
	require.NoError(t, err)
	require.NoError(t, s.SetMode(transport.ModeAnchor))

	require.NoError(t, s.RunLoop())
	assert.True(t, d.Armed())
	assert.Equal(t, 1, d.ArmCount())

	var buf [proto.StandardFrameSize]byte
	n, err := proto.EncodeBlink(buf[:], &proto.Blink{Seq: 3, Short: proto.ShortAddrFromUint16(0x00AA)})
	require.NoError(t, err)
	s.OnRxGood(d.LoadRx(buf[:n], 42))
	tick = 5
	require.NoError(t, s.RunLoop())

	rec, ok := d.LastTx()
	require.True(t, ok)
	assert.Equal(t, transport.TxImmediate, rec.Mode)
	assert.False(t, rec.Ranging)
	ri, err := proto.DecodeRangingInit(rec.Frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), ri.Seq)
	assert.Equal(t, anchor, ri.Short)
	assert.Equal(t, 1, d.IdleCount())
	assert.False(t, d.Armed(), "transmit closes the receiver")

	s.OnTxDone()
	assert.True(t, d.Armed())
}

func TestDriverFailNextTx(t *testing.T) {
	d := New()
	boom := errors.New("boom")
	d.FailNextTx(boom)
	require.NoError(t, d.WriteTxPayload([]byte{1, 2, 3}, 0))
	d.WriteTxControl(3, 0, false)

	assert.ErrorIs(t, d.StartTx(transport.TxImmediate), boom)
	assert.Empty(t, d.TxLog())
	require.NoError(t, d.StartTx(transport.TxImmediate))
	assert.Len(t, d.TxLog(), 1)

	assert.ErrorIs(t, d.WriteTxPayload(make([]byte, 10), proto.StandardFrameSize-5), proto.ErrBufferTooSmall)
}

func TestDriverDelayedRecord(t *testing.T) {
	d := New()
	require.NoError(t, d.WriteTxPayload([]byte{0x41}, 0))
	d.WriteTxControl(1, 0, true)
	d.SetDelayedTxTime(0xABCDEF)
	require.NoError(t, d.StartTx(transport.TxDelayed))

	rec, _ := d.LastTx()
	assert.Equal(t, TxRecord{Frame: []byte{0x41}, Mode: transport.TxDelayed, DelayedAt: 0xABCDEF, Ranging: true}, rec)

	d.SetTxTimestamp(proto.TimeOverflow + 5)
	ts := d.ReadTxTimestamp()
	assert.Equal(t, uint64(5), proto.TimestampFromBytes(ts[:]))
}

func TestDriverTxLogBounded(t *testing.T) {
	d := New()
	for i := 0; i < ringCapacity+10; i++ {
		require.NoError(t, d.WriteTxPayload([]byte{byte(i)}, 0))
		d.WriteTxControl(1, 0, false)
		require.NoError(t, d.StartTx(transport.TxImmediate))
	}
	log := d.TxLog()
	require.Len(t, log, ringCapacity)
	assert.Equal(t, byte(10), log[0].Frame[0], "oldest records are overwritten")
	assert.Equal(t, byte(ringCapacity+9), log[len(log)-1].Frame[0])

	d.ClearTxLog()
	_, ok := d.LastTx()
	assert.False(t, ok)
}
