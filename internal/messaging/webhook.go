package messaging

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/assistext/assistext/internal/phone"
)

// ErrInvalidPayload is returned when a webhook lacks required fields.
var ErrInvalidPayload = errors.New("messaging: invalid webhook payload")

// InboundWebhook is the form payload of an inbound message callback.
type InboundWebhook struct {
	MessageSID string
	AccountSID string
	From       string
	To         string
	Body       string
	NumMedia   int
	MediaURLs  []string
}

// maxMediaItems is the carrier's attachment limit per message.
const maxMediaItems = 10

// ParseInboundWebhook extracts and normalizes an inbound message callback.
func ParseInboundWebhook(form url.Values) (*InboundWebhook, error) {
	w := &InboundWebhook{
		MessageSID: firstNonEmpty(form.Get("MessageSid"), form.Get("SmsSid"), form.Get("SmsMessageSid")),
		AccountSID: form.Get("AccountSid"),
		From:       phone.NormalizeE164(form.Get("From")),
		To:         phone.NormalizeE164(form.Get("To")),
		Body:       strings.TrimSpace(form.Get("Body")),
	}
	if n, err := strconv.Atoi(form.Get("NumMedia")); err == nil && n > 0 {
		n = min(n, maxMediaItems)
		w.NumMedia = n
		for i := 0; i < n; i++ {
			if media := form.Get(fmt.Sprintf("MediaUrl%d", i)); media != "" {
				w.MediaURLs = append(w.MediaURLs, media)
			}
		}
	}
	var missing []string
	if w.MessageSID == "" {
		missing = append(missing, "MessageSid")
	}
	if w.From == "" {
		missing = append(missing, "From")
	}
	if w.To == "" {
		missing = append(missing, "To")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}
	return w, nil
}

// StatusCallback is the form payload of a delivery status callback.
type StatusCallback struct {
	MessageSID    string
	MessageStatus string
	ErrorCode     string
	ErrorMessage  string
	From          string
	To            string
}

// ParseStatusCallback extracts a delivery status callback.
func ParseStatusCallback(form url.Values) (*StatusCallback, error) {
	cb := &StatusCallback{
		MessageSID:    firstNonEmpty(form.Get("MessageSid"), form.Get("SmsSid")),
		MessageStatus: strings.ToLower(firstNonEmpty(form.Get("MessageStatus"), form.Get("SmsStatus"))),
		ErrorCode:     strings.TrimSpace(form.Get("ErrorCode")),
		ErrorMessage:  strings.TrimSpace(form.Get("ErrorMessage")),
		From:          phone.NormalizeE164(form.Get("From")),
		To:            phone.NormalizeE164(form.Get("To")),
	}
	if cb.MessageSID == "" || cb.MessageStatus == "" {
		return nil, fmt.Errorf("%w: missing MessageSid or MessageStatus", ErrInvalidPayload)
	}
	return cb, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
