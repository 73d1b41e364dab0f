package protocol

import (
	"errors"
	"math"
	"testing"
)

func TestTimestampBytes(t *testing.T) {
	tests := []struct {
		name string
		ts   uint64
		want [TimestampSize]byte
	}{
		{"zero", 0, [5]byte{}},
		{"low byte", 0x7F, [5]byte{0x7F}},
		{"all bytes", 0x0102030405, [5]byte{0x05, 0x04, 0x03, 0x02, 0x01}},
		{"max", Mask40, [5]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"upper bits ignored", 0xABCD_0000000001, [5]byte{0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimestampBytes(tt.ts)
			if got != tt.want {
				t.Errorf("TimestampBytes(%#x) = % X, want % X", tt.ts, got, tt.want)
			}
			if back := TimestampFromBytes(got[:]); back != tt.ts&Mask40 {
				t.Errorf("TimestampFromBytes() = %#x, want %#x", back, tt.ts&Mask40)
			}
		})
	}
}

func TestTimestampDelta(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		want int64
	}{
		{"forward", 1000, 400, 600},
		{"equal", 77, 77, 0},
		{"wrap", 5, TimeOverflow - 3, 8},
		{"wrap from zero", 0, Mask40, 1},
		{"one tick short of a full period", Mask40, 0, int64(Mask40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimestampDelta(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("TimestampDelta(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got < 0 || uint64(got) >= TimeOverflow {
				t.Errorf("TimestampDelta(%d, %d) = %d outside [0, 2^40)", tt.a, tt.b, got)
			}
		})
	}

	// a < b always yields (a - b + 2^40) mod 2^40
	for _, b := range []uint64{1, 1 << 20, 1 << 39, Mask40} {
		for _, a := range []uint64{0, b / 2, b - 1} {
			want := int64((a + TimeOverflow - b) % TimeOverflow)
			if got := TimestampDelta(a, b); got != want {
				t.Errorf("TimestampDelta(%d, %d) = %d, want %d", a, b, got, want)
			}
		}
	}
}

func TestConversions(t *testing.T) {
	if got := MicrosecondsToTicks(DefaultReplyDelayUS); got != 63897600 {
		t.Errorf("MicrosecondsToTicks(1000) = %d, want 63897600", got)
	}
	if got := TicksToMicroseconds(TicksPerMS); math.Abs(got-1000) > 1e-6 {
		t.Errorf("TicksToMicroseconds(TicksPerMS) = %f, want 1000", got)
	}
	// TicksPerMeter and DistancePerTick are reciprocal
	if got := TicksToMeters(TicksPerMeter); math.Abs(got-1) > 1e-6 {
		t.Errorf("TicksToMeters(TicksPerMeter) = %f, want 1", got)
	}
}

func TestComputeRange(t *testing.T) {
	t.Run("golden value", func(t *testing.T) {
		x := Exchange{
			PollSent:        0,
			PollReceived:    1000,
			PollAckSent:     1500,
			PollAckReceived: 2600,
			RangeSent:       3200,
			RangeReceived:   2100,
		}
		r1, r2, p1, p2 := x.Intervals()
		if r1 != 2600 || r2 != 600 || p1 != 500 || p2 != 600 {
			t.Fatalf("Intervals() = %d %d %d %d", r1, r2, p1, p2)
		}
		tof, err := ComputeTimeOfFlight(x)
		if err != nil {
			t.Fatal(err)
		}
		if tof != 1260000.0/4300.0 {
			t.Errorf("ComputeTimeOfFlight() = %v", tof)
		}
		got, err := ComputeRange(x)
		if err != nil {
			t.Fatal(err)
		}
		if got != 1.374795956524659 {
			t.Errorf("ComputeRange() = %.17g, want 1.374795956524659", got)
		}
		if float32(got) != float32(1.374795913696289) {
			t.Errorf("float32(ComputeRange()) = %v", float32(got))
		}
	})

	t.Run("wrapped clocks", func(t *testing.T) {
		// Same exchange with the anchor clock about to roll over.
		base := TimeOverflow - 1200
		x := Exchange{
			PollSent:        0,
			PollReceived:    base + 1000,
			PollAckSent:     (base + 1500) & Mask40,
			PollAckReceived: 2600,
			RangeSent:       3200,
			RangeReceived:   (base + 2100) & Mask40,
		}
		got, err := ComputeRange(x)
		if err != nil {
			t.Fatal(err)
		}
		if got != 1.374795956524659 {
			t.Errorf("ComputeRange() with wrap = %.17g", got)
		}
	})

	t.Run("symmetric exchange", func(t *testing.T) {
		// 100 ticks of flight, 10000 ticks of reply on both sides.
		x := Exchange{
			PollSent:        0,
			PollReceived:    500100,
			PollAckSent:     510100,
			PollAckReceived: 10200,
			RangeSent:       20200,
			RangeReceived:   520300,
		}
		tof, err := ComputeTimeOfFlight(x)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(tof-100) > 1e-9 {
			t.Errorf("ComputeTimeOfFlight() = %f, want 100", tof)
		}
	})

	t.Run("degenerate", func(t *testing.T) {
		_, err := ComputeRange(Exchange{})
		if !errors.Is(err, ErrDegenerateExchange) {
			t.Errorf("ComputeRange(zero) error = %v, want ErrDegenerateExchange", err)
		}
	})
}

func TestDeviceLiveness(t *testing.T) {
	last := uint32(math.MaxUint32 - 10)
	d := Device{LastAction: last}
	if !d.IsAlive(5, DeviceTimeout) {
		t.Error("device should survive a tick counter wrap")
	}
	if !d.IsAlive(last+DeviceTimeout, DeviceTimeout) {
		t.Error("device should be alive exactly at the timeout")
	}
	if d.IsAlive(last+DeviceTimeout+1, DeviceTimeout) {
		t.Error("device should be stale one tick past the timeout")
	}
	d.Reset()
	if d.Active || d.LastAction != 0 {
		t.Error("Reset() left state behind")
	}
}

func TestDelayedTxRegister(t *testing.T) {
	tests := []struct {
		ts   uint64
		want uint32
	}{
		{0, 0},
		{0x1FF, 0},
		{0x200, 0x2},
		{0x3FF, 0x2},
		{0x12_3456_7980, 0x12345678},
		{0x12_3456_7A80, 0x1234567A},
		{TimeOverflow + 0x300, 0x2},
		{Mask40, 0xFFFFFFFE},
	}
	for _, tt := range tests {
		if got := DelayedTxRegister(tt.ts); got != tt.want {
			t.Errorf("DelayedTxRegister(%#x) = %#x, want %#x", tt.ts, got, tt.want)
		}
		if got := DelayedTxRegister(tt.ts); got&1 != 0 {
			t.Errorf("DelayedTxRegister(%#x) has bit 0 set", tt.ts)
		}
	}
}
