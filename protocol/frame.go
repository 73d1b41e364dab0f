package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Frames are encoded into caller-owned fixed buffers and decoded into values,
// so the ranging path never allocates. Every encoded length includes the two
// CRC bytes, which the radio fills in on transmit.
//
// Data frame header (16-bit addressing):
//
//	+--------+--------+-----+--------+---------+---------+------+
//	|  FC1   |  FC2   | Seq | PAN ID | Dst     | Src     | Type |
//	+--------+--------+-----+--------+---------+---------+------+
//	| 0x41   | 0x8C   |  1  | CA DE  | 2 bytes | 2 bytes |  1   |
//	+--------+--------+-----+--------+---------+---------+------+

// ShortAddr is the 16-bit node address, stored in on-air byte order.
type ShortAddr [ShortAddrSize]byte

// EUI64 is the 64-bit extended node address.
type EUI64 [EUI64Size]byte

// BroadcastAddr addresses every node.
var BroadcastAddr = ShortAddr{BroadcastByte, BroadcastByte}

// ShortAddrFromUint16 builds an address from its little-endian numeric value.
func ShortAddrFromUint16(v uint16) ShortAddr {
	var a ShortAddr
	binary.LittleEndian.PutUint16(a[:], v)
	return a
}

func (a ShortAddr) Uint16() uint16 { return binary.LittleEndian.Uint16(a[:]) }

func (a ShortAddr) IsBroadcast() bool { return a == BroadcastAddr }

func (a ShortAddr) String() string { return fmt.Sprintf("0x%04X", a.Uint16()) }

func (e EUI64) String() string { return fmt.Sprintf("%016X", binary.LittleEndian.Uint64(e[:])) }

// Header is the common part of every data frame.
type Header struct {
	Seq  uint8
	Dst  ShortAddr
	Src  ShortAddr
	Type MessageType
}

type Blink struct {
	Seq   uint8
	EUI   EUI64
	Short ShortAddr
}

type RangingInit struct {
	Header
	Short ShortAddr
	EUI   EUI64
}

// PollSlot assigns a reply delay to one polled device. The delay is
// positional: slot i always carries base*(2i+1) and the anchor finds its slot
// by scanning for its own address.
type PollSlot struct {
	Addr         ShortAddr
	ReplyDelayUS uint16
}

type Poll struct {
	Header
	Count int
	Slots [MaxDevices]PollSlot
}

type PollAck struct {
	Header
}

type RangeEntry struct {
	Addr            ShortAddr
	PollAckReceived uint64
}

type Range struct {
	Header
	PollSent  uint64
	RangeSent uint64
	Count     int
	Entries   [MaxDevices]RangeEntry
}

type Final struct {
	Header
	Target ShortAddr
	Range  float32
}

// SlotFor returns the reply delay assigned to addr.
func (p *Poll) SlotFor(addr ShortAddr) (uint16, bool) {
	for i := 0; i < p.Count; i++ {
		if p.Slots[i].Addr == addr {
			return p.Slots[i].ReplyDelayUS, true
		}
	}
	return 0, false
}

// EntryFor returns the poll-ack receive time the tag recorded for addr.
func (r *Range) EntryFor(addr ShortAddr) (uint64, bool) {
	for i := 0; i < r.Count; i++ {
		if r.Entries[i].Addr == addr {
			return r.Entries[i].PollAckReceived, true
		}
	}
	return 0, false
}

func putHeader(buf []byte, h *Header) {
	buf[0] = FrameControl1
	buf[1] = FrameControl2
	buf[offsetSeq] = h.Seq
	buf[offsetPAN] = PANID1
	buf[offsetPAN+1] = PANID2
	copy(buf[offsetDst:], h.Dst[:])
	copy(buf[offsetSrc:], h.Src[:])
	buf[offsetType] = byte(h.Type)
}

func readHeader(data []byte) Header {
	var h Header
	h.Seq = data[offsetSeq]
	copy(h.Dst[:], data[offsetDst:offsetDst+ShortAddrSize])
	copy(h.Src[:], data[offsetSrc:offsetSrc+ShortAddrSize])
	h.Type = MessageType(data[offsetType])
	return h
}

func clearCRC(buf []byte, n int) {
	buf[n-2] = 0
	buf[n-1] = 0
}

func checkBuffer(buf []byte, n int) error {
	if len(buf) < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, n, len(buf))
	}
	return nil
}

// checkData validates the frame control, the discriminator at offset 9 and
// the minimum length of a received data frame.
func checkData(data []byte, want MessageType, minLen int) error {
	if len(data) < minLen {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformedFrame, want, minLen, len(data))
	}
	if data[0] != FrameControl1 {
		return fmt.Errorf("%w: frame control 0x%02X is not a data frame", ErrMalformedFrame, data[0])
	}
	if got := MessageType(data[offsetType]); got != want {
		return fmt.Errorf("%w: type %s, want %s", ErrMalformedFrame, got, want)
	}
	return nil
}

// PeekType classifies a received buffer without decoding it.
func PeekType(data []byte) (MessageType, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty frame", ErrMalformedFrame)
	}
	switch data[0] {
	case FrameControlBlink:
		return TypeBlink, nil
	case FrameControl1:
		if len(data) < FrameHeaderSize {
			return 0, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformedFrame, FrameHeaderSize, len(data))
		}
		return MessageType(data[offsetType]), nil
	}
	return 0, fmt.Errorf("%w: unknown frame control 0x%02X", ErrMalformedFrame, data[0])
}

func EncodeBlink(buf []byte, b *Blink) (int, error) {
	if err := checkBuffer(buf, BlinkLen); err != nil {
		return 0, err
	}
	buf[0] = FrameControlBlink
	buf[1] = b.Seq
	copy(buf[2:], b.EUI[:])
	copy(buf[2+EUI64Size:], b.Short[:])
	clearCRC(buf, BlinkLen)
	return BlinkLen, nil
}

func DecodeBlink(data []byte) (Blink, error) {
	var b Blink
	if len(data) < BlinkLen {
		return b, fmt.Errorf("%w: Blink needs %d bytes, got %d", ErrMalformedFrame, BlinkLen, len(data))
	}
	if data[0] != FrameControlBlink {
		return b, fmt.Errorf("%w: frame control 0x%02X is not a blink", ErrMalformedFrame, data[0])
	}
	b.Seq = data[1]
	copy(b.EUI[:], data[2:2+EUI64Size])
	copy(b.Short[:], data[2+EUI64Size:2+EUI64Size+ShortAddrSize])
	return b, nil
}

func EncodeRangingInit(buf []byte, f *RangingInit) (int, error) {
	if err := checkBuffer(buf, RangingInitLen); err != nil {
		return 0, err
	}
	f.Type = TypeRangingInit
	putHeader(buf, &f.Header)
	copy(buf[FrameHeaderSize:], f.Short[:])
	copy(buf[FrameHeaderSize+ShortAddrSize:], f.EUI[:])
	clearCRC(buf, RangingInitLen)
	return RangingInitLen, nil
}

func DecodeRangingInit(data []byte) (RangingInit, error) {
	var f RangingInit
	if err := checkData(data, TypeRangingInit, RangingInitLen); err != nil {
		return f, err
	}
	f.Header = readHeader(data)
	copy(f.Short[:], data[FrameHeaderSize:])
	copy(f.EUI[:], data[FrameHeaderSize+ShortAddrSize:FrameHeaderSize+ShortAddrSize+EUI64Size])
	return f, nil
}

func EncodePoll(buf []byte, p *Poll) (int, error) {
	if p.Count < 0 || p.Count > MaxDevices {
		return 0, ErrTooManyDevices
	}
	n := PollLen(p.Count)
	if err := checkBuffer(buf, n); err != nil {
		return 0, err
	}
	p.Type = TypePoll
	putHeader(buf, &p.Header)
	off := FrameHeaderSize
	for i := 0; i < p.Count; i++ {
		copy(buf[off:], p.Slots[i].Addr[:])
		binary.LittleEndian.PutUint16(buf[off+ShortAddrSize:], p.Slots[i].ReplyDelayUS)
		off += pollEntrySize
	}
	clearCRC(buf, n)
	return n, nil
}

func DecodePoll(data []byte) (Poll, error) {
	var p Poll
	if err := checkData(data, TypePoll, PollLen(0)); err != nil {
		return p, err
	}
	body := len(data) - FrameHeaderSize - CRCSize
	if body%pollEntrySize != 0 {
		return p, fmt.Errorf("%w: poll body of %d bytes is not a whole number of slots", ErrMalformedFrame, body)
	}
	count := body / pollEntrySize
	if count > MaxDevices {
		return p, fmt.Errorf("%w: poll names %d devices", ErrMalformedFrame, count)
	}
	p.Header = readHeader(data)
	p.Count = count
	off := FrameHeaderSize
	for i := 0; i < count; i++ {
		copy(p.Slots[i].Addr[:], data[off:off+ShortAddrSize])
		p.Slots[i].ReplyDelayUS = binary.LittleEndian.Uint16(data[off+ShortAddrSize:])
		off += pollEntrySize
	}
	return p, nil
}

func EncodePollAck(buf []byte, f *PollAck) (int, error) {
	if err := checkBuffer(buf, PollAckLen); err != nil {
		return 0, err
	}
	f.Type = TypePollAck
	putHeader(buf, &f.Header)
	clearCRC(buf, PollAckLen)
	return PollAckLen, nil
}

func DecodePollAck(data []byte) (PollAck, error) {
	var f PollAck
	if err := checkData(data, TypePollAck, PollAckLen); err != nil {
		return f, err
	}
	f.Header = readHeader(data)
	return f, nil
}

func EncodeRange(buf []byte, r *Range) (int, error) {
	if r.Count < 0 || r.Count > MaxDevices {
		return 0, ErrTooManyDevices
	}
	n := RangeLen(r.Count)
	if err := checkBuffer(buf, n); err != nil {
		return 0, err
	}
	r.Type = TypeRange
	putHeader(buf, &r.Header)
	PutTimestamp(buf[FrameHeaderSize:], r.PollSent)
	PutTimestamp(buf[FrameHeaderSize+TimestampSize:], r.RangeSent)
	off := FrameHeaderSize + rangeFixedSize
	for i := 0; i < r.Count; i++ {
		copy(buf[off:], r.Entries[i].Addr[:])
		PutTimestamp(buf[off+ShortAddrSize:], r.Entries[i].PollAckReceived)
		off += rangeEntrySize
	}
	clearCRC(buf, n)
	return n, nil
}

// PutRangeSent patches the range-sent slot of an encoded Range frame. The tag
// only knows its transmit time once the delayed send has been scheduled.
func PutRangeSent(buf []byte, ts uint64) {
	PutTimestamp(buf[FrameHeaderSize+TimestampSize:], ts)
}

func DecodeRange(data []byte) (Range, error) {
	var r Range
	if err := checkData(data, TypeRange, RangeLen(0)); err != nil {
		return r, err
	}
	body := len(data) - FrameHeaderSize - rangeFixedSize - CRCSize
	if body%rangeEntrySize != 0 {
		return r, fmt.Errorf("%w: range body of %d bytes is not a whole number of entries", ErrMalformedFrame, body)
	}
	count := body / rangeEntrySize
	if count > MaxDevices {
		return r, fmt.Errorf("%w: range carries %d devices", ErrMalformedFrame, count)
	}
	r.Header = readHeader(data)
	r.PollSent = TimestampFromBytes(data[FrameHeaderSize:])
	r.RangeSent = TimestampFromBytes(data[FrameHeaderSize+TimestampSize:])
	r.Count = count
	off := FrameHeaderSize + rangeFixedSize
	for i := 0; i < count; i++ {
		copy(r.Entries[i].Addr[:], data[off:off+ShortAddrSize])
		r.Entries[i].PollAckReceived = TimestampFromBytes(data[off+ShortAddrSize:])
		off += rangeEntrySize
	}
	return r, nil
}

func EncodeFinal(buf []byte, f *Final) (int, error) {
	if err := checkBuffer(buf, FinalLen); err != nil {
		return 0, err
	}
	f.Type = TypeFinal
	putHeader(buf, &f.Header)
	copy(buf[FrameHeaderSize:], f.Target[:])
	off := FrameHeaderSize + ShortAddrSize
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f.Range))
	for i := off + RangeValueSize; i < FinalLen; i++ {
		buf[i] = 0
	}
	return FinalLen, nil
}

func DecodeFinal(data []byte) (Final, error) {
	var f Final
	if err := checkData(data, TypeFinal, FinalLen); err != nil {
		return f, err
	}
	f.Header = readHeader(data)
	copy(f.Target[:], data[FrameHeaderSize:])
	off := FrameHeaderSize + ShortAddrSize
	f.Range = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	return f, nil
}
