package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/zulandar/stylequeue/internal/models"
	"github.com/zulandar/stylequeue/internal/profile"
)

func TestFormatWait(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "<1m"},
		{59 * time.Second, "<1m"},
		{12*time.Minute + 30*time.Second, "12m"},
		{2*time.Hour + 5*time.Minute, "2h05m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatWait(tt.in), tt.in.String())
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "éé...", truncate("éééééééé", 5))
}

func TestDescribeContext(t *testing.T) {
	assert.Equal(t, "-", describeContext(nil))
	assert.Equal(t, "3 purchases, minimal/linen", describeContext(&profile.Summary{
		RecentPurchases:  3,
		StylePreferences: []string{"minimal", "linen"},
	}))
}

func TestPalette_PlainWhenDisabled(t *testing.T) {
	p := newPalette(false)
	assert.Equal(t, "urgent", p.priority(models.PriorityUrgent))
	assert.Equal(t, "normal", p.priority(models.PriorityNormal))
	assert.Equal(t, "escalated", p.status(models.StatusEscalated))
}

func TestAlertTargets(t *testing.T) {
	assert.Equal(t, "none", alertTargets(false, false))
	assert.Equal(t, "slack", alertTargets(true, false))
	assert.Equal(t, "slack, discord", alertTargets(true, true))
}
