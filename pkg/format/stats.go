package format

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/berrythewa/pastesync/internal/paste"
)

// Stats summarizes a set of pastes.
type Stats struct {
	Total     int                `json:"total_entries"`
	TotalSize int64              `json:"total_size"`
	Favorites int                `json:"favorites"`
	Oldest    time.Time          `json:"oldest_entry,omitempty"`
	Newest    time.Time          `json:"newest_entry,omitempty"`
	ByType    map[paste.Type]int `json:"entries_by_type"`
	ByDevice  map[string]int     `json:"entries_by_device"`
}

// ComputeStats aggregates list.
func ComputeStats(list []*paste.Data) Stats {
	s := Stats{ByType: map[paste.Type]int{}, ByDevice: map[string]int{}}
	for _, d := range list {
		s.Total++
		s.TotalSize += d.Size()
		if d.Favorite {
			s.Favorites++
		}
		t := d.Coordinate.CreateTime
		if s.Oldest.IsZero() || t.Before(s.Oldest) {
			s.Oldest = t
		}
		if t.After(s.Newest) {
			s.Newest = t
		}
		s.ByType[d.Type()]++
		s.ByDevice[d.Coordinate.DeviceID]++
	}
	return s
}

// FormatStats formats history statistics for display
func FormatStats(s Stats, opts Options) string {
	now := time.Now()
	parts := []string{ColorizeIf("Clipboard Statistics", BrightBlue, opts.UseColors), ""}
	parts = append(parts,
		statLine("Total entries", fmt.Sprintf("%d", s.Total), opts),
		statLine("Total size", FormatSize(s.TotalSize), opts),
		statLine("Favorites", fmt.Sprintf("%d", s.Favorites), opts))
	if s.Total > 0 {
		parts = append(parts,
			statLine("Oldest entry", FormatRelativeTime(s.Oldest, now), opts),
			statLine("Newest entry", FormatRelativeTime(s.Newest, now), opts))
	}

	if len(s.ByType) > 0 {
		parts = append(parts, "", ColorizeIf("Entries by type", BrightBlue, opts.UseColors))
		types := make([]string, 0, len(s.ByType))
		for t := range s.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			icon := ""
			if opts.UseIcons {
				icon = TypeIcons[paste.Type(t)] + " "
			}
			label := ColorizeIf(t, TypeColors[paste.Type(t)], opts.UseColors)
			parts = append(parts, fmt.Sprintf("  %s%s: %d", icon, label, s.ByType[paste.Type(t)]))
		}
	}
	if len(s.ByDevice) > 1 {
		parts = append(parts, "", ColorizeIf("Entries by device", BrightBlue, opts.UseColors))
		devices := make([]string, 0, len(s.ByDevice))
		for d := range s.ByDevice {
			devices = append(devices, d)
		}
		sort.Strings(devices)
		for _, d := range devices {
			parts = append(parts, fmt.Sprintf("  %s: %d", d, s.ByDevice[d]))
		}
	}
	return strings.Join(parts, "\n")
}

func statLine(label, value string, opts Options) string {
	return fmt.Sprintf("  %s %s", ColorizeIf(label+":", BrightCyan, opts.UseColors), value)
}
