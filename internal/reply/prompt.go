package reply

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/assistext/assistext/internal/tenancy"
)

const DefaultMaxChars = 320

var replyPrefixes = []string{
	"Assistant:", "AI:", "Response:", "Reply:", "SMS Response:", "My response:",
}

// BuildSystemPrompt renders the tenant's personality and instructions into
// the system prompt.
func BuildSystemPrompt(t tenancy.Tenant, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are replying to text messages on behalf of %s.", t.DisplayName())
	if p := strings.TrimSpace(t.Personality); p != "" {
		fmt.Fprintf(&b, " Personality: %s.", strings.TrimRight(p, "."))
	}
	fmt.Fprintf(&b, " Keep replies friendly, plain text, and under %d characters.", maxChars)
	b.WriteString(" Never invent prices, appointments, or commitments.")

	system := []string{b.String()}
	if instr := strings.TrimSpace(t.Instructions); instr != "" {
		system = append(system, "Business instructions:\n"+instr)
	}
	return system
}

// BuildMessages returns the last turns of history followed by the inbound
// body. History is expected oldest first.
func BuildMessages(history []ChatMessage, body string, turns int) []ChatMessage {
	if turns >= 0 && len(history) > turns {
		history = history[len(history)-turns:]
	}
	out := make([]ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role != ChatRoleUser && msg.Role != ChatRoleAssistant {
			continue
		}
		out = append(out, msg)
	}
	return append(out, ChatMessage{Role: ChatRoleUser, Content: strings.TrimSpace(body)})
}

// CleanReply normalizes model output for SMS. An empty result means the
// output was unusable.
func CleanReply(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text = strings.TrimSpace(text)
	for changed := true; changed; {
		changed = false
		for _, prefix := range replyPrefixes {
			if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
				text = strings.TrimSpace(text[len(prefix):])
				changed = true
			}
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	text = stripQuotes(text)
	text = strings.Map(func(r rune) rune {
		if r < 32 {
			return -1
		}
		return r
	}, text)
	if text == "" {
		return ""
	}

	text = truncate(text, maxChars)
	if !endsWithPunctuation(text) {
		if utf8.RuneCountInString(text) >= maxChars {
			runes := []rune(text)
			text = string(runes[:maxChars-1])
		}
		text += "."
	}
	return text
}

func stripQuotes(s string) string {
	for _, pair := range [][2]string{{`"`, `"`}, {`'`, `'`}, {"“", "”"}} {
		left, right := pair[0], pair[1]
		if len(s) >= len(left)+len(right) && strings.HasPrefix(s, left) && strings.HasSuffix(s, right) {
			return strings.TrimSpace(s[len(left) : len(s)-len(right)])
		}
	}
	return s
}

// truncate cuts at the last sentence boundary that fits, else hard cuts
// with an ellipsis.
func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	window := string(runes[:maxChars])
	cut := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(window+" ", sep); i > cut {
			cut = i
		}
	}
	// keep the sentence boundary only if it retains a useful share of text
	if cut > 0 && utf8.RuneCountInString(window[:cut+1]) >= maxChars/2 {
		return window[:cut+1]
	}
	if maxChars <= 3 {
		return string(runes[:maxChars])
	}
	return strings.TrimSpace(string(runes[:maxChars-3])) + "..."
}

func endsWithPunctuation(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	switch r {
	case '.', '!', '?', ')', '"', '\'', '…':
		return true
	}
	return false
}
