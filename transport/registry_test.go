package transport

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	proto "github.com/ystepanoff/uwbtwr/protocol"
)

func addr(v uint16) proto.ShortAddr { return proto.ShortAddrFromUint16(v) }

func TestRegistryAdmit(t *testing.T) {
	var r Registry
	r.Init()

	if got := r.Admit(addr(0x10), proto.EUI64{1}, 5); got != Admitted {
		t.Fatalf("first Admit = %v, want %v", got, Admitted)
	}
	if got := r.Admit(addr(0x10), proto.EUI64{2}, 9); got != AlreadyPresent {
		t.Fatalf("second Admit = %v, want %v", got, AlreadyPresent)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", r.ActiveCount())
	}
	d := r.Device(0)
	if d.EUI != (proto.EUI64{1}) || d.LastAction != 5 {
		t.Errorf("re-admit changed the record: eui=%v last=%d", d.EUI, d.LastAction)
	}
}

func TestRegistryCapacity(t *testing.T) {
	var r Registry
	r.Init()
	for i := 0; i < proto.MaxDevices; i++ {
		if got := r.Admit(addr(uint16(0x100+i)), proto.EUI64{}, 0); got != Admitted {
			t.Fatalf("Admit #%d = %v", i, got)
		}
	}
	before := r.Snapshot()

	if got := r.Admit(addr(0x200), proto.EUI64{}, 0); got != Full {
		t.Fatalf("Admit on full registry = %v, want %v", got, Full)
	}
	if r.ActiveCount() != proto.MaxDevices {
		t.Errorf("ActiveCount = %d, want %d", r.ActiveCount(), proto.MaxDevices)
	}
	if diff := cmp.Diff(before, r.Snapshot()); diff != "" {
		t.Errorf("registry changed by rejected admit (-before +after):\n%s", diff)
	}
	if _, ok := r.FindByShortAddr(addr(0x200)); ok {
		t.Error("rejected peer is findable")
	}
}

func TestRegistrySweep(t *testing.T) {
	const timeout = 2000

	tests := []struct {
		name    string
		last    uint32
		now     uint32
		evicted int
	}{
		{"just heard", 1000, 1000, 0},
		{"at timeout", 1000, 1000 + timeout, 0},
		{"one past timeout", 1000, 1000 + timeout + 1, 1},
		{"tick wrapped, alive", 0xFFFFFF00, 0x00000100, 0},
		{"tick wrapped, expired", 0xFFFFF000, 0x00000800, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Registry
			r.Init()
			r.Admit(addr(1), proto.EUI64{}, tt.last)

			if n := r.SweepExpired(tt.now, timeout); n != tt.evicted {
				t.Fatalf("SweepExpired = %d, want %d", n, tt.evicted)
			}
			if r.ActiveCount() != 1-tt.evicted {
				t.Errorf("ActiveCount = %d, want %d", r.ActiveCount(), 1-tt.evicted)
			}
		})
	}
}

func TestRegistrySlotReuse(t *testing.T) {
	var r Registry
	r.Init()
	r.Admit(addr(1), proto.EUI64{}, 0)
	r.Admit(addr(2), proto.EUI64{}, 0)
	r.Admit(addr(3), proto.EUI64{}, 0)
	r.Device(1).Range = 4.2

	if !r.Remove(addr(2)) {
		t.Fatal("Remove of present peer returned false")
	}
	if r.Remove(addr(2)) {
		t.Fatal("Remove of absent peer returned true")
	}
	if i, ok := r.FindByShortAddr(addr(2)); ok || i != -1 {
		t.Errorf("FindByShortAddr after Remove = %d, %v", i, ok)
	}

	r.Admit(addr(4), proto.EUI64{}, 7)
	i, ok := r.FindByShortAddr(addr(4))
	if !ok || i != 1 {
		t.Fatalf("new peer in slot %d, want the freed slot 1", i)
	}
	if r.Device(1).Range != 0 {
		t.Error("reused slot kept the previous peer's range")
	}

	var order []proto.ShortAddr
	r.ForEachActive(func(_ int, d *proto.Device) bool {
		order = append(order, d.Short)
		return true
	})
	if diff := cmp.Diff([]proto.ShortAddr{addr(1), addr(4), addr(3)}, order); diff != "" {
		t.Errorf("iteration order (-want +got):\n%s", diff)
	}

	visited := 0
	r.ForEachActive(func(int, *proto.Device) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Errorf("ForEachActive visited %d after stop, want 1", visited)
	}
}
