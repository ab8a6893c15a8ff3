// Package classify maps foreground activity to a signal/noise verdict.
// Rules are data, not code: an ordered list where the first match wins
// and no match yields Unknown. The classifier is pure; identical input
// always yields identical output.
package classify

import (
	"strings"
	"sync/atomic"

	"github.com/geb16/prodtracker/internal/domain"
)

// Rule is one entry of the ordered rule list.
// Exactly one of App or Keyword should be set: App matches the app name
// exactly (case-insensitive), Keyword matches as a substring of the app
// name or window title.
type Rule struct {
	Name    string `mapstructure:"name"`
	App     string `mapstructure:"app"`
	Keyword string `mapstructure:"keyword"`
	Verdict string `mapstructure:"verdict"`
}

func (r Rule) matches(app, title string) bool {
	if r.App != "" {
		return strings.EqualFold(r.App, app)
	}
	if r.Keyword != "" {
		kw := strings.ToLower(r.Keyword)
		return strings.Contains(strings.ToLower(app), kw) ||
			strings.Contains(strings.ToLower(title), kw)
	}
	return false
}

func (r Rule) verdict() domain.Verdict {
	switch strings.ToLower(r.Verdict) {
	case "signal":
		return domain.VerdictSignal
	case "noise":
		return domain.VerdictNoise
	}
	return domain.VerdictUnknown
}

// Classifier evaluates the rule list. The list is swapped atomically on
// reload so in-flight classifications always see a consistent ruleset.
type Classifier struct {
	rules atomic.Pointer[[]Rule]
}

// New creates a classifier with the given initial rules.
func New(rules []Rule) *Classifier {
	c := &Classifier{}
	c.Reload(rules)
	return c
}

// Reload replaces the rule list without a restart.
func (c *Classifier) Reload(rules []Rule) {
	snapshot := make([]Rule, len(rules))
	copy(snapshot, rules)
	c.rules.Store(&snapshot)
}

// Rules returns the current rule list (for the status command).
func (c *Classifier) Rules() []Rule {
	return *c.rules.Load()
}

// Classify runs app and title through the ordered rules. Earlier rules
// always win on overlap; Unknown counts toward neither signal nor noise.
func (c *Classifier) Classify(app, title string) domain.Classification {
	for _, r := range *c.rules.Load() {
		if r.matches(app, title) {
			return domain.Classification{Verdict: r.verdict(), Rule: r.Name}
		}
	}
	return domain.Classification{Verdict: domain.VerdictUnknown}
}

// DefaultRules is the built-in ruleset used when no rules file is
// configured. Keywords mirror the usual distraction suspects.
func DefaultRules() []Rule {
	noise := []string{
		"youtube", "tiktok", "shorts", "instagram", "reddit", "facebook",
		"netflix", "hulu", "disneyplus", "twitter", "discord", "twitch",
	}
	signal := []string{"code", "terminal", "jetbrains", "vim", "emacs", "docs"}

	rules := make([]Rule, 0, len(noise)+len(signal))
	for _, kw := range noise {
		rules = append(rules, Rule{Name: "noise:" + kw, Keyword: kw, Verdict: "noise"})
	}
	for _, kw := range signal {
		rules = append(rules, Rule{Name: "signal:" + kw, Keyword: kw, Verdict: "signal"})
	}
	return rules
}
