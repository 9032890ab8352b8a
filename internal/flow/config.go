package flow

import "time"

// Default policy values, overridable via Config.
const (
	// DefaultDailyChatCap is the number of turns a user may start per day.
	DefaultDailyChatCap = 100
	// DefaultBanThresholdNormal bans after this many warnings in normal mode.
	DefaultBanThresholdNormal = 3
	// DefaultBanThresholdCrisis bans after this many warnings in crisis mode.
	// Deliberately higher than normal mode: a user in crisis gets more slack
	// before losing access to support.
	DefaultBanThresholdCrisis = 5
	// DefaultHistoryWindow is how many recent turns are sent as model context.
	DefaultHistoryWindow = 20
	// DefaultCrisisMaxTokens caps crisis-mode replies to short grounding text.
	DefaultCrisisMaxTokens = 300
	// DefaultReplyTimeout bounds one streaming turn wall-clock.
	DefaultReplyTimeout = 30 * time.Second
	// DefaultAssessTimeout bounds the wellbeing assessment request.
	DefaultAssessTimeout = 20 * time.Second
	// DefaultHeartbeatInterval is the typing-signal cadence while generating.
	DefaultHeartbeatInterval = 3 * time.Second
)

// Config carries the conversation policy knobs. Zero fields fall back to the
// defaults above via Normalize.
type Config struct {
	DailyChatCap       int
	BanThresholdNormal int
	BanThresholdCrisis int
	HistoryWindow      int
	CrisisMaxTokens    int64
	ReplyTimeout       time.Duration
	AssessTimeout      time.Duration
	HeartbeatInterval  time.Duration
}

// DefaultConfig returns the default conversation policy.
func DefaultConfig() Config {
	return Config{
		DailyChatCap:       DefaultDailyChatCap,
		BanThresholdNormal: DefaultBanThresholdNormal,
		BanThresholdCrisis: DefaultBanThresholdCrisis,
		HistoryWindow:      DefaultHistoryWindow,
		CrisisMaxTokens:    DefaultCrisisMaxTokens,
		ReplyTimeout:       DefaultReplyTimeout,
		AssessTimeout:      DefaultAssessTimeout,
		HeartbeatInterval:  DefaultHeartbeatInterval,
	}
}

// Normalize fills zero-valued fields with defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.DailyChatCap <= 0 {
		c.DailyChatCap = d.DailyChatCap
	}
	if c.BanThresholdNormal <= 0 {
		c.BanThresholdNormal = d.BanThresholdNormal
	}
	if c.BanThresholdCrisis <= 0 {
		c.BanThresholdCrisis = d.BanThresholdCrisis
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.CrisisMaxTokens <= 0 {
		c.CrisisMaxTokens = d.CrisisMaxTokens
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = d.ReplyTimeout
	}
	if c.AssessTimeout <= 0 {
		c.AssessTimeout = d.AssessTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}
