// Package selector orders and filters candidate channels by severity rules.
package selector

import (
	"sort"

	"alertpipe/internal/notify"
)

// Rule is one severity's routing table.
type Rule struct {
	// RequiredLabels a channel must all carry to qualify for this severity.
	RequiredLabels []string
	// PreferredOrder ranks channel names; absent channels sort last.
	PreferredOrder []string
}

// Selection is the ordered channel list plus any routing flags.
type Selection struct {
	Channels []notify.ChannelProfile
	// FailedOpen is set when the label filter emptied the list and the
	// unfiltered list was used instead. Channels are never silently all
	// dropped.
	FailedOpen bool
}

// Select filters requested down to channels whose label set covers the
// severity's required labels, then orders by the severity's preference table
// with descending static priority as the tiebreak.
func Select(rule Rule, requested []notify.ChannelProfile) Selection {
	filtered := make([]notify.ChannelProfile, 0, len(requested))
	for _, ch := range requested {
		if ch.HasLabels(rule.RequiredLabels) {
			filtered = append(filtered, ch)
		}
	}

	sel := Selection{Channels: filtered}
	if len(filtered) == 0 && len(requested) > 0 {
		// Fail open: a misconfigured label table must not swallow the alert.
		sel.Channels = append([]notify.ChannelProfile(nil), requested...)
		sel.FailedOpen = true
	}

	rank := make(map[string]int, len(rule.PreferredOrder))
	for i, name := range rule.PreferredOrder {
		rank[name] = i
	}
	pos := func(name string) int {
		if i, ok := rank[name]; ok {
			return i
		}
		return len(rule.PreferredOrder)
	}

	sort.SliceStable(sel.Channels, func(i, j int) bool {
		a, b := sel.Channels[i], sel.Channels[j]
		pa, pb := pos(a.Name), pos(b.Name)
		if pa != pb {
			return pa < pb
		}
		return a.Priority > b.Priority
	})
	return sel
}
