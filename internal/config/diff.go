package config

import (
	"reflect"
	"sort"

	logx "alertpipe/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (tokens) never appear in the output.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 8)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if changedChannels := diffChannelNames(oldCfg.Channels, newCfg.Channels); len(changedChannels) > 0 {
		changed = append(changed, "channels")
		attrs = append(attrs, logx.Any("channels.changed", changedChannels))
	}
	if !reflect.DeepEqual(oldCfg.Severities, newCfg.Severities) {
		changed = append(changed, "severities")
	}
	if oldCfg.Circuit != newCfg.Circuit {
		changed = append(changed, "circuit")
	}
	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	return changed, attrs
}

// diffChannelNames lists channels that were added, removed or modified.
// Token fields are compared but never surfaced.
func diffChannelNames(oldChs, newChs map[string]ChannelConfig) []string {
	names := map[string]bool{}
	for n, oc := range oldChs {
		nc, ok := newChs[n]
		if !ok || !reflect.DeepEqual(oc, nc) {
			names[n] = true
		}
	}
	for n := range newChs {
		if _, ok := oldChs[n]; !ok {
			names[n] = true
		}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
