package carrier

import (
	"errors"
	"strings"
)

// Outcome classifies a send attempt so callers can decide what to persist.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeRetryable Outcome = "retryable"
	OutcomeFatal     Outcome = "fatal"
)

// SendRequest describes an outbound SMS/MMS.
type SendRequest struct {
	From      string
	To        string
	Body      string
	MediaURLs []string
	// StatusCallbackURL overrides the client-level status callback.
	StatusCallbackURL string
}

func (r SendRequest) validate() error {
	if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
		return errors.New("carrier: from and to are required")
	}
	if strings.TrimSpace(r.Body) == "" && len(r.MediaURLs) == 0 {
		return errors.New("carrier: body or media required")
	}
	if len([]rune(r.Body)) > maxBodyLength {
		return errors.New("carrier: body exceeds 1600 characters")
	}
	return nil
}

// SendResult is the typed outcome of Send. ErrorCode and ErrorMessage are
// populated for every non-sent outcome and are meant to be stored verbatim.
type SendResult struct {
	Outcome      Outcome
	MessageID    string
	Status       string
	ErrorCode    string
	ErrorMessage string
	HTTPStatus   int
	Attempts     int
}

// OK reports whether the carrier accepted the message.
func (r SendResult) OK() bool {
	return r.Outcome == OutcomeSent
}

// SearchCriteria filters available numbers.
type SearchCriteria struct {
	Country    string
	AreaCode   string
	Contains   string
	InRegion   string
	InLocality string
	SMSEnabled bool
	MMSEnabled bool
	Limit      int
}

// Capabilities advertised by the carrier for a number.
type Capabilities struct {
	Voice bool `json:"voice"`
	SMS   bool `json:"SMS"`
	MMS   bool `json:"MMS"`
}

// AvailableNumber is a purchasable number returned by SearchNumbers.
type AvailableNumber struct {
	PhoneNumber  string       `json:"phone_number"`
	FriendlyName string       `json:"friendly_name"`
	Locality     string       `json:"locality"`
	Region       string       `json:"region"`
	PostalCode   string       `json:"postal_code"`
	ISOCountry   string       `json:"iso_country"`
	Capabilities Capabilities `json:"capabilities"`
}

// PurchaseRequest buys a number and points its messaging webhooks at this service.
type PurchaseRequest struct {
	PhoneNumber       string
	FriendlyName      string
	SMSURL            string
	StatusCallbackURL string
}

func (r PurchaseRequest) validate() error {
	if strings.TrimSpace(r.PhoneNumber) == "" {
		return errors.New("carrier: phone number required")
	}
	return nil
}

// PurchasedNumber confirms a purchase.
type PurchasedNumber struct {
	SID            string       `json:"sid"`
	PhoneNumber    string       `json:"phone_number"`
	FriendlyName   string       `json:"friendly_name"`
	SMSURL         string       `json:"sms_url"`
	StatusCallback string       `json:"status_callback"`
	DateCreated    string       `json:"date_created"`
	Capabilities   Capabilities `json:"capabilities"`
}

// MessageRecord is the carrier's view of a single message.
type MessageRecord struct {
	SID          string  `json:"sid"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Body         string  `json:"body"`
	Status       string  `json:"status"`
	Direction    string  `json:"direction"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	DateSent     string  `json:"date_sent"`
	NumSegments  string  `json:"num_segments"`
}
