package protocol

// Generic UWB ranging constants (platform independent). All higher layers should depend on this file.
const (
	// Frame control bytes. Data frames use FrameControl1/FrameControl2, a
	// blink carries FrameControlBlink in its first byte and has no second one.
	FrameControl1     = 0x41
	FrameControl2     = 0x8C
	FrameControlBlink = 0xC5

	// PAN identifier shared by every node, little-endian on air (0xDECA).
	PANID1 = 0xCA
	PANID2 = 0xDE

	BroadcastByte = 0xFF

	// Sizes of individual components
	ShortAddrSize     = 2
	EUI64Size         = 8
	TimestampSize     = 5
	CRCSize           = 2 // computed by the radio, reserved in every frame length
	ReplyDelaySize    = 2
	RangeValueSize    = 4
	FinalReservedSize = 4

	// Layout:
	//   FC(2) | Seq(1) | PAN(2) | Dst(2) | Src(2) | Type(1) | Payload | CRC(2)
	offsetSeq  = 2
	offsetPAN  = 3
	offsetDst  = 5
	offsetSrc  = 7
	offsetType = 9

	FrameHeaderSize = 2 + 1 + 2 + ShortAddrSize + ShortAddrSize + 1 // 10 bytes

	// Blink: FC(1) | Seq(1) | EUI64(8) | Short(2) | CRC(2)
	BlinkLen = 1 + 1 + EUI64Size + ShortAddrSize + CRCSize

	RangingInitLen = FrameHeaderSize + ShortAddrSize + EUI64Size + CRCSize
	PollAckLen     = FrameHeaderSize + CRCSize
	FinalLen       = FrameHeaderSize + ShortAddrSize + RangeValueSize + FinalReservedSize + CRCSize

	pollEntrySize  = ShortAddrSize + ReplyDelaySize
	rangeEntrySize = ShortAddrSize + TimestampSize
	rangeFixedSize = 2 * TimestampSize

	// MaxDevices bounds both the registry and the per-frame device lists.
	MaxDevices = 6

	MaxPollLen  = FrameHeaderSize + pollEntrySize*MaxDevices + CRCSize
	MaxRangeLen = FrameHeaderSize + rangeFixedSize + rangeEntrySize*MaxDevices + CRCSize

	// StandardFrameSize is the largest frame the radio accepts.
	StandardFrameSize = 127

	// Timeouts / intervals (milliseconds of the liveness tick counter)
	BlinkInterval       = 50
	PollInterval        = 1500
	CheckDeviceInterval = 500
	DeviceTimeout       = 2000
	MinBlinkAfterPoll   = 20
	RangingIdleDeadline = 100000

	// Reply timing (microseconds of air time)
	DefaultReplyDelayUS = 1000
	DefaultRangeDelayUS = 1500
)

// MessageType is the discriminator byte carried at offset 9 of data frames.
// Blink has no discriminator byte and is identified by its frame control.
type MessageType byte

const (
	TypePoll        MessageType = 0
	TypePollAck     MessageType = 1
	TypeRange       MessageType = 2
	TypeFinal       MessageType = 3
	TypeBlink       MessageType = 4
	TypeRangingInit MessageType = 5
	TypeRangeFailed MessageType = 255
)

func (t MessageType) String() string {
	switch t {
	case TypePoll:
		return "Poll"
	case TypePollAck:
		return "PollAck"
	case TypeRange:
		return "Range"
	case TypeFinal:
		return "Final"
	case TypeBlink:
		return "Blink"
	case TypeRangingInit:
		return "RangingInit"
	case TypeRangeFailed:
		return "RangeFailed"
	}
	return "Unknown"
}

// PollLen returns the on-air length of a Poll naming n devices.
func PollLen(n int) int { return FrameHeaderSize + pollEntrySize*n + CRCSize }

// RangeLen returns the on-air length of a Range carrying n device entries.
func RangeLen(n int) int { return FrameHeaderSize + rangeFixedSize + rangeEntrySize*n + CRCSize }
