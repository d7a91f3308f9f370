// Package abuse detects bursty behavior with per-(actor, category) sliding
// windows. It knows nothing about Discord: callers feed it classified events
// with timestamps and act on the returned decision.
package abuse

import (
	"strings"
	"sync"
	"time"

	"yeoyu-guard/internal/config"
	"yeoyu-guard/internal/utils"
)

type Category string

const (
	CategorySpam          Category = "message_spam"
	CategoryMention       Category = "mass_mention"
	CategoryChannelCreate Category = "channel_create"
	CategoryChannelDelete Category = "channel_delete"
	CategoryRoleDelete    Category = "role_delete"
	CategoryKick          Category = "mass_kick"
	CategoryBan           Category = "mass_ban"
	CategoryTimeout       Category = "mass_timeout"
)

type Rule struct {
	Window    time.Duration
	Threshold int
}

// Decision is the outcome of one observation. Count is the number of hits in
// the window at trigger time, for the audit trail.
type Decision struct {
	Quarantine bool
	Category   Category
	Count      int
}

type Detector struct {
	mu          sync.Mutex
	rules       map[Category]Rule
	windows     map[string]*utils.SlidingWindow
	lastContent map[string]string
	maxLength   int
}

func New(cfg config.AbuseConfig) *Detector {
	return &Detector{
		rules: map[Category]Rule{
			CategorySpam:          ruleFromConfig(cfg.Spam),
			CategoryMention:       ruleFromConfig(cfg.Mention),
			CategoryChannelCreate: ruleFromConfig(cfg.ChannelCreate),
			CategoryChannelDelete: ruleFromConfig(cfg.ChannelDelete),
			CategoryRoleDelete:    ruleFromConfig(cfg.RoleDelete),
			CategoryKick:          ruleFromConfig(cfg.Kick),
			CategoryBan:           ruleFromConfig(cfg.Ban),
			CategoryTimeout:       ruleFromConfig(cfg.Timeout),
		},
		windows:     make(map[string]*utils.SlidingWindow),
		lastContent: make(map[string]string),
		maxLength:   cfg.MaxMessageLength,
	}
}

func ruleFromConfig(rule config.AbuseRule) Rule {
	window := time.Duration(rule.WindowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}
	return Rule{Window: window, Threshold: rule.Threshold}
}

// Observe records one event and reports whether it tripped the category's
// threshold. On a trigger the window is cleared, so the same burst cannot
// re-fire until a full new burst accumulates.
func (d *Detector) Observe(actorID string, category Category, now time.Time) Decision {
	rule, ok := d.rules[category]
	if !ok || rule.Threshold <= 0 {
		return Decision{Category: category}
	}

	window := d.getWindow(actorID, category, rule.Window)
	count := window.Add(now)
	if count < rule.Threshold {
		return Decision{Category: category, Count: count}
	}

	window.Clear()
	return Decision{Quarantine: true, Category: category, Count: count}
}

// QualifiesAsSpam reports whether a message should count toward the spam
// window: either it exceeds the length limit or it repeats the actor's
// previous message verbatim.
func (d *Detector) QualifiesAsSpam(actorID, content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}

	d.mu.Lock()
	previous := d.lastContent[actorID]
	d.lastContent[actorID] = trimmed
	d.mu.Unlock()

	if d.maxLength > 0 && len([]rune(trimmed)) > d.maxLength {
		return true
	}
	return trimmed == previous
}

func (d *Detector) getWindow(actorID string, category Category, duration time.Duration) *utils.SlidingWindow {
	key := actorID + ":" + string(category)

	d.mu.Lock()
	defer d.mu.Unlock()
	window := d.windows[key]
	if window == nil {
		window = utils.NewSlidingWindow(duration)
		d.windows[key] = window
	}
	return window
}
