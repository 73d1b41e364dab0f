//go:build !tinygo && !baremetal

package main

import (
	"fmt"
	"sort"

	"github.com/pterm/pterm"

	proto "github.com/ystepanoff/uwbtwr/protocol"
)

// rangeTable renders the per-anchor range statistics seen by the tag.
func (s *simulation) rangeTable() pterm.TableData {
	data := pterm.TableData{{"Anchor", "Name", "True (m)", "Last (m)", "Mean (m)", "Std (cm)", "Max err (cm)", "Finals", "Computed"}}

	names := make(map[proto.ShortAddr]string, len(s.nodes))
	for _, n := range s.nodes {
		names[n.session.Config().ShortAddr] = n.name
	}
	addrs := make([]proto.ShortAddr, 0, len(s.ranges))
	for a := range s.ranges {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Uint16() < addrs[j].Uint16() })

	for _, a := range addrs {
		st := s.ranges[a]
		data = append(data, []string{
			a.String(),
			names[a],
			fmt.Sprintf("%.3f", st.truth),
			fmt.Sprintf("%.3f", st.last),
			fmt.Sprintf("%.3f", st.mean()),
			fmt.Sprintf("%.1f", st.stddev()*100),
			fmt.Sprintf("%.1f", st.maxErr*100),
			fmt.Sprint(st.count),
			fmt.Sprint(st.reports),
		})
	}
	return data
}

// statsTable renders the counters of every session.
func (s *simulation) statsTable() pterm.TableData {
	data := pterm.TableData{{"Node", "Mode", "Step", "Peers", "Sent", "Recv", "Malformed", "Ignored", "TX fail", "Late", "Evicted", "Drops"}}
	for _, n := range s.nodes {
		st := n.session.LocalState()
		data = append(data, []string{
			n.name,
			st.Mode,
			st.Step,
			fmt.Sprint(st.ActiveCount),
			fmt.Sprint(st.Stats.FramesSent),
			fmt.Sprint(st.Stats.FramesReceived),
			fmt.Sprint(st.Stats.Malformed),
			fmt.Sprint(st.Stats.Ignored),
			fmt.Sprint(st.Stats.TxFailures),
			fmt.Sprint(st.Stats.LateTransmits),
			fmt.Sprint(st.Stats.Evictions),
			fmt.Sprint(st.Stats.QueueDrops),
		})
	}
	return data
}

func (s *simulation) printReport() {
	pterm.DefaultSection.Println(fmt.Sprintf("t = %.0f ms", s.elapsedMS()))
	_ = pterm.DefaultTable.WithHasHeader().WithData(s.rangeTable()).Render()
	pterm.Println()
	_ = pterm.DefaultTable.WithHasHeader().WithData(s.statsTable()).Render()
	pterm.Println()
}
