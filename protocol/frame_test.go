package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var (
	tagAddr    = ShortAddr{0x01, 0x00}
	anchorAddr = ShortAddr{0x0A, 0x00}
	tagEUI     = EUI64{1, 2, 3, 4, 5, 6, 7, 8}
)

func TestFrameEncoding(t *testing.T) {
	var buf [StandardFrameSize]byte

	tests := []struct {
		name    string
		encode  func() (int, error)
		wantLen int
		check   func(t *testing.T, b []byte)
	}{
		{
			name: "blink",
			encode: func() (int, error) {
				return EncodeBlink(buf[:], &Blink{Seq: 7, EUI: tagEUI, Short: tagAddr})
			},
			wantLen: 14,
			check: func(t *testing.T, b []byte) {
				if b[0] != FrameControlBlink || b[1] != 7 {
					t.Errorf("blink header = % X", b[:2])
				}
				if b[10] != 0x01 || b[11] != 0x00 {
					t.Errorf("blink short address = % X", b[10:12])
				}
			},
		},
		{
			name: "ranging init",
			encode: func() (int, error) {
				return EncodeRangingInit(buf[:], &RangingInit{
					Header: Header{Seq: 7, Dst: tagAddr, Src: anchorAddr},
					Short:  anchorAddr,
					EUI:    tagEUI,
				})
			},
			wantLen: 22,
			check: func(t *testing.T, b []byte) {
				if b[9] != byte(TypeRangingInit) {
					t.Errorf("type byte = %d", b[9])
				}
				if b[5] != tagAddr[0] || b[7] != anchorAddr[0] {
					t.Errorf("addresses = % X", b[5:9])
				}
			},
		},
		{
			name: "poll with three slots",
			encode: func() (int, error) {
				p := Poll{Header: Header{Seq: 1, Dst: BroadcastAddr, Src: tagAddr}, Count: 3}
				for i := 0; i < 3; i++ {
					p.Slots[i] = PollSlot{Addr: ShortAddrFromUint16(uint16(10 + i)), ReplyDelayUS: uint16(1000 * (2*i + 1))}
				}
				return EncodePoll(buf[:], &p)
			},
			wantLen: 24,
			check: func(t *testing.T, b []byte) {
				// second slot: address 11, delay 3000 = 0x0BB8
				if b[14] != 11 || b[16] != 0xB8 || b[17] != 0x0B {
					t.Errorf("slot 1 = % X", b[14:18])
				}
			},
		},
		{
			name: "poll ack",
			encode: func() (int, error) {
				return EncodePollAck(buf[:], &PollAck{Header: Header{Seq: 2, Dst: tagAddr, Src: anchorAddr}})
			},
			wantLen: 12,
		},
		{
			name: "range with one entry",
			encode: func() (int, error) {
				r := Range{Header: Header{Seq: 3, Dst: BroadcastAddr, Src: tagAddr}, PollSent: 0x0102030405, RangeSent: 0xAABBCCDDEE, Count: 1}
				r.Entries[0] = RangeEntry{Addr: anchorAddr, PollAckReceived: 0xFF00000001}
				return EncodeRange(buf[:], &r)
			},
			wantLen: 29,
			check: func(t *testing.T, b []byte) {
				if b[10] != 0x05 || b[14] != 0x01 {
					t.Errorf("poll sent bytes = % X", b[10:15])
				}
				if b[22] != 0x01 || b[26] != 0xFF {
					t.Errorf("entry timestamp = % X", b[22:27])
				}
			},
		},
		{
			name: "final",
			encode: func() (int, error) {
				return EncodeFinal(buf[:], &Final{Header: Header{Seq: 4, Dst: tagAddr, Src: anchorAddr}, Target: tagAddr, Range: 1.5})
			},
			wantLen: 22,
			check: func(t *testing.T, b []byte) {
				// 1.5 as float32 little-endian
				want := []byte{0x00, 0x00, 0xC0, 0x3F}
				if diff := cmp.Diff(want, b[12:16]); diff != "" {
					t.Errorf("range bytes (-want +got):\n%s", diff)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := range buf {
				buf[i] = 0xEE
			}
			n, err := tt.encode()
			if err != nil {
				t.Fatalf("encode error = %v", err)
			}
			if n != tt.wantLen {
				t.Fatalf("encoded length = %d, want %d", n, tt.wantLen)
			}
			if buf[n-2] != 0 || buf[n-1] != 0 {
				t.Errorf("CRC bytes = % X, want zeroed", buf[n-2:n])
			}
			if buf[0] == FrameControl1 {
				if buf[1] != FrameControl2 || buf[3] != PANID1 || buf[4] != PANID2 {
					t.Errorf("header = % X", buf[:5])
				}
			}
			if tt.check != nil {
				tt.check(t, buf[:n])
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf [StandardFrameSize]byte

	t.Run("blink", func(t *testing.T) {
		in := Blink{Seq: 255, EUI: tagEUI, Short: tagAddr}
		n, err := EncodeBlink(buf[:], &in)
		if err != nil {
			t.Fatal(err)
		}
		out, err := DecodeBlink(buf[:n])
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("round trip (-in +out):\n%s", diff)
		}
	})

	t.Run("ranging init", func(t *testing.T) {
		in := RangingInit{Header: Header{Seq: 0, Dst: tagAddr, Src: anchorAddr}, Short: anchorAddr, EUI: tagEUI}
		n, err := EncodeRangingInit(buf[:], &in)
		if err != nil {
			t.Fatal(err)
		}
		out, err := DecodeRangingInit(buf[:n])
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("round trip (-in +out):\n%s", diff)
		}
	})

	for count := 0; count <= MaxDevices; count++ {
		p := Poll{Header: Header{Seq: uint8(count * 40), Dst: BroadcastAddr, Src: tagAddr}, Count: count}
		r := Range{Header: Header{Seq: uint8(count), Dst: BroadcastAddr, Src: tagAddr}, PollSent: Mask40, RangeSent: 12345, Count: count}
		for i := 0; i < count; i++ {
			addr := ShortAddrFromUint16(uint16(0x100 + i))
			p.Slots[i] = PollSlot{Addr: addr, ReplyDelayUS: uint16(DefaultReplyDelayUS * (2*i + 1))}
			r.Entries[i] = RangeEntry{Addr: addr, PollAckReceived: uint64(i) << 36}
		}

		n, err := EncodePoll(buf[:], &p)
		if err != nil {
			t.Fatalf("EncodePoll(%d) error = %v", count, err)
		}
		gotPoll, err := DecodePoll(buf[:n])
		if err != nil {
			t.Fatalf("DecodePoll(%d) error = %v", count, err)
		}
		if diff := cmp.Diff(p, gotPoll); diff != "" {
			t.Errorf("poll round trip with %d devices (-in +out):\n%s", count, diff)
		}

		n, err = EncodeRange(buf[:], &r)
		if err != nil {
			t.Fatalf("EncodeRange(%d) error = %v", count, err)
		}
		gotRange, err := DecodeRange(buf[:n])
		if err != nil {
			t.Fatalf("DecodeRange(%d) error = %v", count, err)
		}
		if diff := cmp.Diff(r, gotRange); diff != "" {
			t.Errorf("range round trip with %d devices (-in +out):\n%s", count, diff)
		}
	}

	t.Run("poll ack", func(t *testing.T) {
		in := PollAck{Header: Header{Seq: 128, Dst: tagAddr, Src: anchorAddr}}
		n, err := EncodePollAck(buf[:], &in)
		if err != nil {
			t.Fatal(err)
		}
		out, err := DecodePollAck(buf[:n])
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("round trip (-in +out):\n%s", diff)
		}
	})

	t.Run("final", func(t *testing.T) {
		in := Final{Header: Header{Seq: 9, Dst: tagAddr, Src: anchorAddr}, Target: tagAddr, Range: 3.25}
		n, err := EncodeFinal(buf[:], &in)
		if err != nil {
			t.Fatal(err)
		}
		out, err := DecodeFinal(buf[:n])
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Errorf("round trip (-in +out):\n%s", diff)
		}
	})
}

func TestDecodeInvalidFrames(t *testing.T) {
	var buf [StandardFrameSize]byte
	pollAckLen, _ := EncodePollAck(buf[:], &PollAck{Header: Header{Dst: tagAddr, Src: anchorAddr}})
	pollAck := append([]byte(nil), buf[:pollAckLen]...)

	p := Poll{Header: Header{Dst: BroadcastAddr, Src: tagAddr}, Count: 1}
	p.Slots[0] = PollSlot{Addr: anchorAddr, ReplyDelayUS: 1000}
	pollLen, _ := EncodePoll(buf[:], &p)
	poll := append([]byte(nil), buf[:pollLen]...)

	tests := []struct {
		name   string
		decode func() error
	}{
		{"nil data", func() error { _, err := DecodePoll(nil); return err }},
		{"short blink", func() error { _, err := DecodeBlink([]byte{FrameControlBlink, 1, 2}); return err }},
		{"blink with data frame control", func() error {
			_, err := DecodeBlink(append(append([]byte(nil), pollAck...), 0, 0))
			return err
		}},
		{"wrong discriminator", func() error { _, err := DecodePoll(pollAck); return err }},
		{"truncated poll slot", func() error { _, err := DecodePoll(poll[:len(poll)-1]); return err }},
		{"poll with too many slots", func() error {
			long := make([]byte, PollLen(MaxDevices+1))
			copy(long, poll[:FrameHeaderSize])
			_, err := DecodePoll(long)
			return err
		}},
		{"short range", func() error {
			short := append([]byte(nil), poll[:FrameHeaderSize]...)
			short[9] = byte(TypeRange)
			_, err := DecodeRange(append(short, 1, 2, 3))
			return err
		}},
		{"short final", func() error {
			short := append([]byte(nil), pollAck...)
			short[9] = byte(TypeFinal)
			_, err := DecodeFinal(short)
			return err
		}},
		{"short ranging init", func() error {
			short := append([]byte(nil), pollAck...)
			short[9] = byte(TypeRangingInit)
			_, err := DecodeRangingInit(short)
			return err
		}},
		{"foreign frame control", func() error {
			bad := append([]byte(nil), pollAck...)
			bad[0] = 0x61
			_, err := DecodePollAck(bad)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode()
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("decode error = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestEncodeLimits(t *testing.T) {
	small := make([]byte, 8)
	if _, err := EncodeBlink(small, &Blink{}); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("EncodeBlink() error = %v, want ErrBufferTooSmall", err)
	}
	if _, err := EncodePoll(make([]byte, StandardFrameSize), &Poll{Count: MaxDevices + 1}); !errors.Is(err, ErrTooManyDevices) {
		t.Errorf("EncodePoll() error = %v, want ErrTooManyDevices", err)
	}
	if _, err := EncodeRange(make([]byte, RangeLen(2)), &Range{Count: 3}); !errors.Is(err, ErrBufferTooSmall) {
		t.Errorf("EncodeRange() error = %v, want ErrBufferTooSmall", err)
	}
	if MaxRangeLen > StandardFrameSize || MaxPollLen > StandardFrameSize {
		t.Errorf("max frame lengths %d/%d exceed %d", MaxPollLen, MaxRangeLen, StandardFrameSize)
	}
}

func TestPeekType(t *testing.T) {
	var buf [StandardFrameSize]byte
	tests := []struct {
		name string
		data func() []byte
		want MessageType
	}{
		{"blink", func() []byte { n, _ := EncodeBlink(buf[:], &Blink{}); return buf[:n] }, TypeBlink},
		{"poll", func() []byte { n, _ := EncodePoll(buf[:], &Poll{}); return buf[:n] }, TypePoll},
		{"final", func() []byte { n, _ := EncodeFinal(buf[:], &Final{}); return buf[:n] }, TypeFinal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeekType(tt.data())
			if err != nil {
				t.Fatalf("PeekType() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PeekType() = %s, want %s", got, tt.want)
			}
		})
	}

	for _, bad := range [][]byte{nil, {0x41, 0x8C, 0}, {0x00}} {
		if _, err := PeekType(bad); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("PeekType(% X) error = %v, want ErrMalformedFrame", bad, err)
		}
	}
}

func TestLookups(t *testing.T) {
	p := Poll{Count: 2}
	p.Slots[0] = PollSlot{Addr: tagAddr, ReplyDelayUS: 1000}
	p.Slots[1] = PollSlot{Addr: anchorAddr, ReplyDelayUS: 3000}
	if d, ok := p.SlotFor(anchorAddr); !ok || d != 3000 {
		t.Errorf("SlotFor(anchor) = %d, %v", d, ok)
	}
	if _, ok := p.SlotFor(ShortAddr{0x55, 0x55}); ok {
		t.Error("SlotFor(unknown) found a slot")
	}

	r := Range{Count: 1}
	r.Entries[0] = RangeEntry{Addr: anchorAddr, PollAckReceived: 42}
	if ts, ok := r.EntryFor(anchorAddr); !ok || ts != 42 {
		t.Errorf("EntryFor(anchor) = %d, %v", ts, ok)
	}

	var buf [StandardFrameSize]byte
	n, _ := EncodeRange(buf[:], &r)
	PutRangeSent(buf[:n], 0x0A0B0C0D0E)
	got, err := DecodeRange(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if got.RangeSent != 0x0A0B0C0D0E {
		t.Errorf("RangeSent after patch = %#x", got.RangeSent)
	}
}

func TestParseAddresses(t *testing.T) {
	a, err := ParseShortAddr("0x1A2B")
	if err != nil || a != (ShortAddr{0x2B, 0x1A}) {
		t.Errorf("ParseShortAddr(0x1A2B) = %v, %v", a, err)
	}
	if _, err := ParseShortAddr("0xFFFF"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("ParseShortAddr(broadcast) error = %v", err)
	}
	if _, err := ParseShortAddr("zz"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("ParseShortAddr(zz) error = %v", err)
	}
	e, err := ParseEUI64(tagEUI.String())
	if err != nil || e != tagEUI {
		t.Errorf("ParseEUI64(%s) = %v, %v", tagEUI, e, err)
	}
}

func TestAddressJSON(t *testing.T) {
	type pair struct {
		Short ShortAddr `json:"short"`
		EUI   EUI64     `json:"eui"`
	}
	in := pair{Short: BroadcastAddr, EUI: tagEUI}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if want := `{"short":"0xFFFF","eui":"0807060504030201"}`; string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
	var out pair
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip (-in +out):\n%s", diff)
	}
	if err := json.Unmarshal([]byte(`{"short":"0xZZ"}`), &out); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Unmarshal(bad address) error = %v", err)
	}
}
