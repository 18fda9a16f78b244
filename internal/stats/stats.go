// Package stats renders human-readable status and activity reports from the
// shared pipeline state.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/state"
	"github.com/ayusman/watchpost/internal/timeutil"
)

// DefaultSummaryHours is the summary window when none is given.
const DefaultSummaryHours = 24

// Source is the read side of the shared state used for reporting.
type Source interface {
	Stats() state.Stats
	History() []detector.Detection
}

// ClassCount is one row of a per-class breakdown.
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// Summary is the structured form of an activity report.
type Summary struct {
	Hours     int          `json:"hours"`
	Uptime    string       `json:"uptime"`
	Total     int          `json:"total"`
	Breakdown []ClassCount `json:"breakdown"`
	LastClass string       `json:"last_class,omitempty"`
	LastAt    time.Time    `json:"last_at,omitempty"`
}

// Generator builds reports from a Source.
type Generator struct {
	source Source
	clock  timeutil.Clock
}

// NewGenerator creates a Generator. A nil clock uses the wall clock.
func NewGenerator(source Source, clock timeutil.Clock) *Generator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Generator{source: source, clock: clock}
}

// ShortStatus reports uptime, total events and the last activity.
func (g *Generator) ShortStatus() string {
	return g.shortStatus("System online")
}

// UnavailableStatus is the short status while the camera cannot deliver
// frames. nextProbe may be zero when no reconnect is scheduled.
func (g *Generator) UnavailableStatus(nextProbe time.Time) string {
	headline := "Camera unavailable: no frame available"
	if !nextProbe.IsZero() {
		headline += "\nNext probe: " + humanize.RelTime(nextProbe, g.clock.Now(), "ago", "from now")
	}
	return g.shortStatus(headline)
}

func (g *Generator) shortStatus(headline string) string {
	st := g.source.Stats()
	now := g.clock.Now()

	lastSeen := "never"
	if !st.LastDetection.IsZero() {
		if now.Sub(st.LastDetection) < time.Minute {
			lastSeen = "just now"
		} else {
			lastSeen = humanize.RelTime(st.LastDetection, now, "ago", "from now")
		}
	}

	return fmt.Sprintf("%s\nUptime: %s\nTotal events: %s\nLast activity: %s",
		headline, FormatUptime(st.Uptime), humanize.Comma(int64(st.TotalDetections)), lastSeen)
}

// Report computes the activity summary for the last hours. hours <= 0 uses
// DefaultSummaryHours.
func (g *Generator) Report(hours int) Summary {
	if hours <= 0 {
		hours = DefaultSummaryHours
	}
	st := g.source.Stats()
	history := g.source.History()
	cutoff := g.clock.Now().Add(-time.Duration(hours) * time.Hour)

	s := Summary{Hours: hours, Uptime: FormatUptime(st.Uptime)}
	counts := make(map[string]int)
	for _, d := range history {
		if d.Timestamp.Before(cutoff) {
			continue
		}
		s.Total++
		counts[d.Class]++
	}
	s.Breakdown = sortCounts(counts)

	if n := len(history); n > 0 {
		s.LastClass = history[n-1].Class
		s.LastAt = history[n-1].Timestamp
	}
	return s
}

// Text renders the summary for an operator.
func (s Summary) Text() string {
	var b strings.Builder
	if s.Total == 0 {
		b.WriteString("Status report\n")
		fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime)
		fmt.Fprintf(&b, "No detections in last %dh", s.Hours)
		return b.String()
	}

	fmt.Fprintf(&b, "Activity report (last %dh)\n", s.Hours)
	fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime)
	fmt.Fprintf(&b, "Total detections: %s\n\n", humanize.Comma(int64(s.Total)))
	b.WriteString("Breakdown:\n")
	for _, c := range s.Breakdown {
		fmt.Fprintf(&b, "- %s: %d\n", c.Class, c.Count)
	}

	last := "none"
	if s.LastClass != "" {
		last = fmt.Sprintf("%s at %s", s.LastClass, s.LastAt.Format("15:04:05"))
	}
	fmt.Fprintf(&b, "\nLast sighted: %s", last)
	return b.String()
}

// SummaryText is shorthand for Report(hours).Text().
func (g *Generator) SummaryText(hours int) string {
	return g.Report(hours).Text()
}

// FormatUptime renders d as H:MM:SS, prefixed with whole days when longer
// than a day.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	h := (total % 86400) / 3600
	m := (total % 3600) / 60
	sec := total % 60

	clock := fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}

func sortCounts(counts map[string]int) []ClassCount {
	out := make([]ClassCount, 0, len(counts))
	for class, n := range counts {
		out = append(out, ClassCount{Class: class, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Class < out[j].Class
	})
	return out
}
