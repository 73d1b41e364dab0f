package transport

import "sync/atomic"

const (
	// EventQueueSize is the number of deferred work items the queue holds.
	EventQueueSize = 4
	// EventDataSize bounds the raw frame copied into an event.
	EventDataSize = 100
)

// EventType tags deferred anchor work.
type EventType uint8

const (
	SendRangeInit EventType = iota + 1
	SendPollAck
	SendFinal
)

func (t EventType) String() string {
	switch t {
	case SendRangeInit:
		return "SendRangeInit"
	case SendPollAck:
		return "SendPollAck"
	case SendFinal:
		return "SendFinal"
	}
	return "None"
}

// Event is one unit of work handed from the RX callback to the anchor loop.
// It is copied by value into and out of the queue.
type Event struct {
	Type      EventType
	Data      [EventDataSize]byte
	Length    int
	Active    bool
	Timestamp uint64 // RX timestamp captured in the callback
}

// Payload returns the received frame bytes.
func (e *Event) Payload() []byte { return e.Data[:e.Length] }

// EventQueue is a single-producer single-consumer ring. The producer is the
// radio callback, the consumer the anchor loop. The cursors are free-running
// counters so fullness never depends on the slot flags, and each side only
// stores its own cursor.
type EventQueue struct {
	slots   [EventQueueSize]Event
	in      atomic.Uint32
	out     atomic.Uint32
	dropped atomic.Uint32
}

// Enqueue copies ev into the next free slot. A full queue rejects the event
// and counts the drop.
func (q *EventQueue) Enqueue(ev Event) bool {
	in := q.in.Load()
	if in-q.out.Load() >= EventQueueSize {
		q.dropped.Add(1)
		return false
	}
	ev.Active = true
	q.slots[in%EventQueueSize] = ev
	q.in.Store(in + 1)
	return true
}

// Drain hands every event that was pending when the call started to fn in
// FIFO order and returns how many it processed. Events enqueued while
// draining wait for the next call.
func (q *EventQueue) Drain(fn func(ev Event)) int {
	end := q.in.Load()
	out := q.out.Load()
	n := 0
	for out != end {
		slot := &q.slots[out%EventQueueSize]
		ev := *slot
		slot.Active = false
		out++
		q.out.Store(out)
		if ev.Active {
			fn(ev)
			n++
		}
	}
	return n
}

// Reset discards pending events. It must not race with Enqueue.
func (q *EventQueue) Reset() {
	for i := range q.slots {
		q.slots[i].Active = false
	}
	q.in.Store(0)
	q.out.Store(0)
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int { return int(q.in.Load() - q.out.Load()) }

// Dropped returns how many events were rejected because the queue was full.
func (q *EventQueue) Dropped() uint32 { return q.dropped.Load() }
