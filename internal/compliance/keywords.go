package compliance

import (
	"regexp"
	"strings"
)

// Detector identifies carrier compliance keywords (STOP, START, HELP) in
// inbound messages. Keywords must lead the message, optionally after "please".
type Detector struct {
	stopRegex   *regexp.Regexp
	startRegex  *regexp.Regexp
	resumeRegex *regexp.Regexp
	helpRegex   *regexp.Regexp
}

// NewDetector returns a keyword detector with the standard carrier keyword sets.
func NewDetector() *Detector {
	return &Detector{
		stopRegex:   regexp.MustCompile(`(?i)^(?:please\s+)?(stop|stopall|unsubscribe|cancel|end|quit)\b`),
		startRegex:  regexp.MustCompile(`(?i)^(?:please\s+)?(start|unstop|resubscribe)\b`),
		resumeRegex: regexp.MustCompile(`(?i)^(yes|y)[.!]*$`),
		helpRegex:   regexp.MustCompile(`(?i)^(?:please\s+)?(help|info)\b`),
	}
}

// IsStop returns true when body opens with an opt-out keyword.
func (d *Detector) IsStop(body string) bool {
	if d == nil || d.stopRegex == nil {
		return false
	}
	return d.stopRegex.MatchString(strings.TrimSpace(body))
}

// IsStart returns true when body opens with an opt-in keyword.
func (d *Detector) IsStart(body string) bool {
	if d == nil || d.startRegex == nil {
		return false
	}
	return d.startRegex.MatchString(strings.TrimSpace(body))
}

// IsResume returns true for a bare "YES". It only means opt-in when the
// sender is currently opted out; callers decide that.
func (d *Detector) IsResume(body string) bool {
	if d == nil || d.resumeRegex == nil {
		return false
	}
	return d.resumeRegex.MatchString(strings.TrimSpace(body))
}

// IsHelp returns true when body opens with a HELP keyword.
func (d *Detector) IsHelp(body string) bool {
	if d == nil || d.helpRegex == nil {
		return false
	}
	return d.helpRegex.MatchString(strings.TrimSpace(body))
}
