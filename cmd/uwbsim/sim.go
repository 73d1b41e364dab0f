//go:build !tinygo && !baremetal

package main

import (
	"context"
	"fmt"
	"math"

	"github.com/ystepanoff/uwbtwr"
	"github.com/ystepanoff/uwbtwr/config"
	"github.com/ystepanoff/uwbtwr/driver/stub"
	"github.com/ystepanoff/uwbtwr/internal/util"
	"github.com/ystepanoff/uwbtwr/monitor"
	proto "github.com/ystepanoff/uwbtwr/protocol"
	"github.com/ystepanoff/uwbtwr/transport"
)

// publishEveryMS is how often snapshots go to the monitor, in simulated time.
const publishEveryMS = 100

type simNode struct {
	name    string
	node    *stub.Node
	session *transport.Session
}

// rangeStats accumulates the ranges one tag/anchor pair produced.
type rangeStats struct {
	count   int
	sum     float64
	sumSq   float64
	last    float32
	truth   float64
	maxErr  float64
	reports int
}

func (r *rangeStats) add(v float32) {
	r.count++
	r.sum += float64(v)
	r.sumSq += float64(v) * float64(v)
	r.last = v
	if e := math.Abs(float64(v) - r.truth); e > r.maxErr {
		r.maxErr = e
	}
}

func (r *rangeStats) mean() float64 {
	if r.count == 0 {
		return 0
	}
	return r.sum / float64(r.count)
}

func (r *rangeStats) stddev() float64 {
	if r.count < 2 {
		return 0
	}
	m := r.mean()
	v := r.sumSq/float64(r.count) - m*m
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}

type simulation struct {
	cfg    config.Config
	medium *stub.Medium
	tag    simNode
	nodes  []simNode
	mon    *monitor.Server

	// ranges are the distances delivered to the tag in Finals, keyed by anchor.
	ranges map[proto.ShortAddr]*rangeStats
}

func newSimulation(cfg config.Config) (*simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sim := &simulation{
		cfg:    cfg,
		medium: stub.NewMedium(),
		ranges: make(map[proto.ShortAddr]*rangeStats),
	}
	sim.medium.SetAirTime(cfg.Radio.AirTimeUS)

	tag, err := sim.addNode(cfg.Tag, transport.ModeTag)
	if err != nil {
		return nil, err
	}
	sim.tag = tag
	tag.session.SetRangeHandler(sim.onFinal)

	for _, nc := range cfg.Anchors {
		n, err := sim.addNode(nc, transport.ModeAnchor)
		if err != nil {
			return nil, err
		}
		short := n.session.Config().ShortAddr
		sim.ranges[short] = &rangeStats{truth: n.node.Position().Distance(tag.node.Position())}
		n.session.SetRangeHandler(sim.onComputed)
	}
	return sim, nil
}

func (s *simulation) addNode(nc config.NodeConfig, mode transport.Mode) (simNode, error) {
	sc, err := s.cfg.ToSession(nc)
	if err != nil {
		return simNode{}, err
	}
	session, node, err := uwbtwr.NewSimulated(s.medium, stub.NodeConfig{
		Name:         nc.Name,
		Position:     stub.Position{X: nc.Position.X, Y: nc.Position.Y, Z: nc.Position.Z},
		ClockOffset:  nc.ClockOffset,
		DriftPPM:     nc.DriftPPM,
		TickOffset:   nc.TickOffset,
		AntennaDelay: s.cfg.Radio.AntennaDelay,
		RxBias:       nc.RxBias,
		RxTimeoutUS:  nc.RxTimeoutUS,
	}, sc, mode)
	if err != nil {
		return simNode{}, fmt.Errorf("node %q: %w", nc.Name, err)
	}

	n := simNode{name: nc.Name, node: node, session: session}
	s.nodes = append(s.nodes, n)
	return n, nil
}

func (s *simulation) onFinal(r transport.RangeReport) {
	if st, ok := s.ranges[r.Anchor]; ok {
		st.add(r.Range)
	}
	util.LogDebug("range %s -> %s: %.3f m", r.Tag, r.Anchor, r.Range)
	if s.mon != nil {
		s.mon.Report(r)
	}
}

func (s *simulation) onComputed(r transport.RangeReport) {
	if st, ok := s.ranges[r.Anchor]; ok {
		st.reports++
	}
}

// run drives every session until durationMS of simulated time have passed
// or ctx is cancelled. report is called every reportEveryMS.
func (s *simulation) run(ctx context.Context, durationMS, reportEveryMS uint64, report func()) error {
	var (
		until       = durationMS * proto.TicksPerMS
		pass        = proto.MicrosecondsToTicks(s.cfg.Simulation.PassUS)
		nextPublish uint64
		nextReport  = reportEveryMS * proto.TicksPerMS
	)
	err := s.medium.Run(until, pass, func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for _, n := range s.nodes {
			if err := n.session.RunLoop(); err != nil {
				return fmt.Errorf("node %q: %w", n.name, err)
			}
		}
		now := s.medium.Now()
		if s.mon != nil && now >= nextPublish {
			s.mon.Publish(s.states())
			nextPublish = now + publishEveryMS*proto.TicksPerMS
		}
		if reportEveryMS > 0 && report != nil && now >= nextReport {
			report()
			nextReport = now + reportEveryMS*proto.TicksPerMS
		}
		return nil
	})
	if s.mon != nil {
		s.mon.Publish(s.states())
	}
	return err
}

func (s *simulation) states() []monitor.NodeState {
	out := make([]monitor.NodeState, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, monitor.NodeState{Name: n.name, State: n.session.LocalState()})
	}
	return out
}

// elapsedMS returns the simulated time in milliseconds.
func (s *simulation) elapsedMS() float64 {
	return float64(s.medium.Now()) / proto.TicksPerMS
}
