// Package tenancy holds tenant configuration and resolves inbound numbers to tenants.
package tenancy

import (
	"strings"

	"github.com/google/uuid"
)

// Defaults applied when a tenant row leaves a setting unset.
const (
	DefaultDailyAIReplyLimit      = 100
	DefaultFiveMinuteMessageLimit = 10
	DefaultTimezone               = "UTC"
)

// Tenant is the reply configuration for an account that owns carrier numbers.
//
// Zero values mean: AI disabled, no static auto-reply text, no business hours
// (always open), and default rate limits. Call WithDefaults after loading.
type Tenant struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Number string    `json:"number"`

	AIEnabled        bool   `json:"ai_enabled"`
	AutoReplyEnabled bool   `json:"auto_reply_enabled"`
	AutoReplyMessage string `json:"auto_reply_message,omitempty"`
	Personality      string `json:"personality,omitempty"`
	Instructions     string `json:"instructions,omitempty"`

	BusinessHours     *BusinessHours `json:"business_hours,omitempty"`
	AfterHoursMessage string         `json:"after_hours_message,omitempty"`
	Timezone          string         `json:"timezone,omitempty"`

	DailyAIReplyLimit      int `json:"daily_ai_reply_limit"`
	FiveMinuteMessageLimit int `json:"five_minute_message_limit"`
}

// Limits are the per-tenant rate limits enforced before calling the LLM.
type Limits struct {
	DailyAIReplies     int
	FiveMinuteMessages int
}

// WithDefaults returns a copy with documented defaults filled in.
func (t Tenant) WithDefaults() Tenant {
	if t.DailyAIReplyLimit <= 0 {
		t.DailyAIReplyLimit = DefaultDailyAIReplyLimit
	}
	if t.FiveMinuteMessageLimit <= 0 {
		t.FiveMinuteMessageLimit = DefaultFiveMinuteMessageLimit
	}
	if strings.TrimSpace(t.Timezone) == "" {
		t.Timezone = DefaultTimezone
	}
	return t
}

// Limits returns the tenant's rate limits.
func (t Tenant) Limits() Limits {
	d := t.WithDefaults()
	return Limits{DailyAIReplies: d.DailyAIReplyLimit, FiveMinuteMessages: d.FiveMinuteMessageLimit}
}

// DisplayName is used in prompts and logs.
func (t Tenant) DisplayName() string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	return "our team"
}
