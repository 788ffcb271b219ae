package reply

import (
	"regexp"
	"strings"

	"github.com/assistext/assistext/internal/compliance"
)

// Canned responses.
const (
	OptOutText      = "You have been unsubscribed. Reply START to opt back in."
	OptInText       = "Welcome back! You're subscribed to receive messages."
	HelpText        = "I'd be happy to help! Let me get back to you with more information shortly."
	GreetingText    = "Hi there! Thanks for your message. I'll get back to you soon!"
	ThanksText      = "You're welcome! Feel free to reach out anytime."
	DefaultText     = "Thanks for your message! I'll get back to you soon."
	RateLimitedText = "I'm receiving a lot of messages right now. Please give me a moment to respond!"
)

// Rule names, in evaluation order.
const (
	RuleOptOut   = "opt_out"
	RuleOptIn    = "opt_in"
	RuleHelp     = "help"
	RuleGreeting = "greeting"
	RuleThanks   = "thanks"
	RuleDefault  = "default"
)

var (
	greetingRegex = regexp.MustCompile(`(?i)\b(hello|hi|hey|good (morning|afternoon|evening))\b`)
	thanksRegex   = regexp.MustCompile(`(?i)\b(thanks|thank you|thank u|thx|ty)\b`)
)

// RuleInput is what a rule predicate sees.
type RuleInput struct {
	Body     string
	OptedOut bool
}

// Rule is one (predicate, response) pair of the fallback responder.
type Rule struct {
	Name     string
	Match    func(RuleInput) bool
	Response string
}

// DefaultRules returns the standard ordered rule list. The last rule always
// matches.
func DefaultRules() []Rule {
	detector := compliance.NewDetector()
	return []Rule{
		{Name: RuleOptOut, Match: func(in RuleInput) bool { return detector.IsStop(in.Body) }, Response: OptOutText},
		{Name: RuleOptIn, Match: func(in RuleInput) bool { return IsOptIn(detector, in) }, Response: OptInText},
		{Name: RuleHelp, Match: func(in RuleInput) bool { return detector.IsHelp(in.Body) }, Response: HelpText},
		{Name: RuleGreeting, Match: func(in RuleInput) bool { return greetingRegex.MatchString(in.Body) }, Response: GreetingText},
		{Name: RuleThanks, Match: func(in RuleInput) bool { return thanksRegex.MatchString(in.Body) }, Response: ThanksText},
		{Name: RuleDefault, Match: func(RuleInput) bool { return true }, Response: DefaultText},
	}
}

// IsOptIn reports whether the message re-subscribes the sender. A bare YES
// only counts while the sender is opted out.
func IsOptIn(detector *compliance.Detector, in RuleInput) bool {
	if detector.IsStart(in.Body) {
		return true
	}
	return in.OptedOut && detector.IsResume(in.Body)
}

// RuleResponder evaluates rules in order and returns the first match.
type RuleResponder struct {
	rules []Rule
}

// NewRuleResponder uses DefaultRules when rules is empty. A default rule is
// appended when the list does not end with one.
func NewRuleResponder(rules ...Rule) *RuleResponder {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if rules[len(rules)-1].Name != RuleDefault {
		rules = append(rules, Rule{Name: RuleDefault, Match: func(RuleInput) bool { return true }, Response: DefaultText})
	}
	return &RuleResponder{rules: rules}
}

// Respond returns the matching rule name and its response.
func (r *RuleResponder) Respond(in RuleInput) (string, string) {
	in.Body = strings.TrimSpace(in.Body)
	for _, rule := range r.rules {
		if rule.Match != nil && rule.Match(in) {
			return rule.Name, rule.Response
		}
	}
	return RuleDefault, DefaultText
}
