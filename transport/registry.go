package transport

import proto "github.com/ystepanoff/uwbtwr/protocol"

// AdmitResult reports the outcome of Registry.Admit.
type AdmitResult uint8

const (
	Admitted AdmitResult = iota
	AlreadyPresent
	Full
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case AlreadyPresent:
		return "already present"
	case Full:
		return "full"
	}
	return "unknown"
}

// Registry is the fixed-capacity table of known peers. Slots are addressed by
// index; iteration is always in slot order, which the Poll reply-delay
// assignment depends on.
//
// The active flags and the active count change together in every mutating
// method. Registry has no lock: the tag mutates it only from RX callbacks and
// the anchor only from its loop.
type Registry struct {
	devices [proto.MaxDevices]proto.Device
	active  int
}

// Init deactivates every slot.
func (r *Registry) Init() {
	for i := range r.devices {
		r.devices[i].Reset()
	}
	r.active = 0
}

// Admit adds a peer unless it is already present or the table is full.
func (r *Registry) Admit(short proto.ShortAddr, eui proto.EUI64, now uint32) AdmitResult {
	if _, ok := r.FindByShortAddr(short); ok {
		return AlreadyPresent
	}
	if r.active == proto.MaxDevices {
		return Full
	}
	for i := range r.devices {
		d := &r.devices[i]
		if d.Active {
			continue
		}
		d.Reset()
		d.Short = short
		d.EUI = eui
		d.Active = true
		d.LastAction = now
		r.active++
		return Admitted
	}
	return Full
}

// FindByShortAddr returns the slot index of an active peer.
func (r *Registry) FindByShortAddr(addr proto.ShortAddr) (int, bool) {
	for i := range r.devices {
		if r.devices[i].Active && r.devices[i].Short == addr {
			return i, true
		}
	}
	return -1, false
}

// SweepExpired deactivates every peer not heard from within timeout ticks of
// now and returns how many were evicted.
func (r *Registry) SweepExpired(now, timeout uint32) int {
	n := 0
	for i := range r.devices {
		d := &r.devices[i]
		if d.Active && !d.IsAlive(now, timeout) {
			d.Active = false
			r.active--
			n++
		}
	}
	return n
}

// Remove deactivates the peer with the given address.
func (r *Registry) Remove(addr proto.ShortAddr) bool {
	i, ok := r.FindByShortAddr(addr)
	if !ok {
		return false
	}
	r.devices[i].Active = false
	r.active--
	return true
}

// Touch records activity from the peer in slot i.
func (r *Registry) Touch(i int, now uint32) { r.devices[i].LastAction = now }

func (r *Registry) ActiveCount() int { return r.active }

// Device returns the record in slot i. The pointer stays valid for the life
// of the registry but the slot may be reused once inactive.
func (r *Registry) Device(i int) *proto.Device { return &r.devices[i] }

// ForEachActive calls fn for every active peer in slot order, stopping early
// when fn returns false.
func (r *Registry) ForEachActive(fn func(i int, d *proto.Device) bool) {
	for i := range r.devices {
		if r.devices[i].Active && !fn(i, &r.devices[i]) {
			return
		}
	}
}

// Snapshot copies out the active peers in slot order.
func (r *Registry) Snapshot() []proto.Device {
	out := make([]proto.Device, 0, r.active)
	r.ForEachActive(func(_ int, d *proto.Device) bool {
		out = append(out, *d)
		return true
	})
	return out
}
