package alert

import (
	"github.com/procsight/baseline-monitor/internal/domain/deviation"
)

// Channel types understood by the downstream notifier.
const (
	ChannelWebhook = "webhook"
	ChannelSlack   = "slack"
	ChannelEmail   = "email"
)

// Channel is a configured notification target. An empty EngagementID makes
// the channel global (all engagements).
type Channel struct {
	ID           string             `json:"id"`
	EngagementID string             `json:"engagement_id,omitempty"`
	ChannelType  string             `json:"channel_type"`
	Config       map[string]string  `json:"config,omitempty"`
	MinSeverity  deviation.Severity `json:"min_severity"`
	Enabled      bool               `json:"enabled"`
}

// Accepts reports whether this channel should receive the given alert:
// enabled, matching (or global) engagement, and severity at or above the
// channel's minimum.
func (c *Channel) Accepts(a *Alert) bool {
	if !c.Enabled {
		return false
	}
	if c.EngagementID != "" && c.EngagementID != a.EngagementID {
		return false
	}
	return MeetsThreshold(a.Severity, c.MinSeverity)
}
