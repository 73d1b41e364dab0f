package transport

import "sync/atomic"

// Stats counts protocol events. Counters are bumped from both the radio
// callbacks and the loop, so they are atomics.
type Stats struct {
	FramesSent     atomic.Uint32
	FramesReceived atomic.Uint32
	Malformed      atomic.Uint32
	Ignored        atomic.Uint32 // well-formed but not for us, or from an unknown peer
	RxErrors       atomic.Uint32
	RxTimeouts     atomic.Uint32
	TxFailures     atomic.Uint32
	LateTransmits  atomic.Uint32
	Admissions     atomic.Uint32
	RegistryFull   atomic.Uint32
	Evictions      atomic.Uint32
	RangesComputed atomic.Uint32
	RangeFailures  atomic.Uint32
	FinalsReceived atomic.Uint32
	ReceiveRearms  atomic.Uint32
}

// StatsSnapshot is a plain copy of Stats.
type StatsSnapshot struct {
	FramesSent     uint32 `json:"frames_sent"`
	FramesReceived uint32 `json:"frames_received"`
	Malformed      uint32 `json:"malformed"`
	Ignored        uint32 `json:"ignored"`
	RxErrors       uint32 `json:"rx_errors"`
	RxTimeouts     uint32 `json:"rx_timeouts"`
	TxFailures     uint32 `json:"tx_failures"`
	LateTransmits  uint32 `json:"late_transmits"`
	Admissions     uint32 `json:"admissions"`
	RegistryFull   uint32 `json:"registry_full"`
	Evictions      uint32 `json:"evictions"`
	RangesComputed uint32 `json:"ranges_computed"`
	RangeFailures  uint32 `json:"range_failures"`
	FinalsReceived uint32 `json:"finals_received"`
	ReceiveRearms  uint32 `json:"receive_rearms"`
	QueueDrops     uint32 `json:"queue_drops"`
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesSent:     s.FramesSent.Load(),
		FramesReceived: s.FramesReceived.Load(),
		Malformed:      s.Malformed.Load(),
		Ignored:        s.Ignored.Load(),
		RxErrors:       s.RxErrors.Load(),
		RxTimeouts:     s.RxTimeouts.Load(),
		TxFailures:     s.TxFailures.Load(),
		LateTransmits:  s.LateTransmits.Load(),
		Admissions:     s.Admissions.Load(),
		RegistryFull:   s.RegistryFull.Load(),
		Evictions:      s.Evictions.Load(),
		RangesComputed: s.RangesComputed.Load(),
		RangeFailures:  s.RangeFailures.Load(),
		FinalsReceived: s.FinalsReceived.Load(),
		ReceiveRearms:  s.ReceiveRearms.Load(),
	}
}
