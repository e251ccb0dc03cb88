package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/profile"
)

// palette colors priorities and statuses in tables. Disabled when not a terminal.
type palette struct {
	urgent, high, muted, ok *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		urgent: color.New(color.FgRed, color.Bold),
		high:   color.New(color.FgYellow),
		muted:  color.New(color.FgHiBlack),
		ok:     color.New(color.FgGreen),
	}
	if !enabled {
		for _, c := range []*color.Color{p.urgent, p.high, p.muted, p.ok} {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) priority(pr models.Priority) string {
	switch pr {
	case models.PriorityUrgent:
		return p.urgent.Sprint(pr)
	case models.PriorityHigh:
		return p.high.Sprint(pr)
	case models.PriorityLow:
		return p.muted.Sprint(pr)
	default:
		return string(pr)
	}
}

func (p palette) status(s models.Status) string {
	switch s {
	case models.StatusEscalated:
		return p.urgent.Sprint(s)
	case models.StatusCompleted:
		return p.ok.Sprint(s)
	default:
		return string(s)
	}
}

// formatWait renders a wait as "2h05m", "12m" or "<1m".
func formatWait(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	d = d.Truncate(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

// truncate shortens s to maxLen runes, appending "..." when cut.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// describeContext condenses a requester profile for the queue table.
func describeContext(s *profile.Summary) string {
	if s == nil {
		return "-"
	}
	out := fmt.Sprintf("%d purchases", s.RecentPurchases)
	if len(s.StylePreferences) > 0 {
		out += ", " + strings.Join(s.StylePreferences, "/")
	}
	return truncate(out, 36)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
