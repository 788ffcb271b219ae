package carrier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const maxBodyLength = 1600

// Carrier error codes with known handling. The LaML API shares Twilio's code space.
const (
	CodeAuthFailed         = 20003
	CodeAccountSuspended   = 20005
	CodeTooManyRequests    = 20429
	CodeInvalidTo          = 21211
	CodeInvalidFrom        = 21212
	CodeUnreachableTo      = 21214
	CodeUnverifiedSender   = 21408
	CodeBodyTooLong        = 21608
	CodeLandline           = 21610
	CodeOptedOut           = 21611
	CodeNotSMSCapable      = 21614
	CodeCarrierFiltered    = 30007
	CodeUnknownDeliveryErr = 30008
)

var retryableCodes = map[int]struct{}{
	CodeTooManyRequests:    {},
	CodeCarrierFiltered:    {},
	CodeUnknownDeliveryErr: {},
}

var fatalCodes = map[int]struct{}{
	CodeAuthFailed:       {},
	CodeAccountSuspended: {},
	CodeInvalidTo:        {},
	CodeInvalidFrom:      {},
	CodeUnreachableTo:    {},
	CodeUnverifiedSender: {},
	CodeBodyTooLong:      {},
	CodeLandline:         {},
	CodeOptedOut:         {},
	CodeNotSMSCapable:    {},
}

// Classify maps an HTTP status and carrier error code to an Outcome.
// Known codes win over the HTTP status.
func Classify(httpStatus, code int) Outcome {
	if _, ok := fatalCodes[code]; ok {
		return OutcomeFatal
	}
	if _, ok := retryableCodes[code]; ok {
		return OutcomeRetryable
	}
	if httpStatus >= 200 && httpStatus < 300 {
		return OutcomeSent
	}
	if httpStatus == http.StatusTooManyRequests || httpStatus >= 500 {
		return OutcomeRetryable
	}
	return OutcomeFatal
}

// APIError is the error body returned by the carrier REST API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
	Status     int    `json:"status"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("carrier: %s (code=%d status=%d)", e.Message, e.Code, e.StatusCode)
	}
	if e.Message != "" {
		return fmt.Sprintf("carrier: %s (status=%d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("carrier: http status %d", e.StatusCode)
}

// CodeString renders the code for persistence. Errors without a carrier code
// fall back to the HTTP status.
func (e *APIError) CodeString() string {
	if e.Code != 0 {
		return strconv.Itoa(e.Code)
	}
	return fmt.Sprintf("http_%d", e.StatusCode)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return Classify(e.StatusCode, e.Code) == OutcomeRetryable
}

func decodeAPIError(status int, body []byte) *APIError {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, Message: truncate(string(body), 200)}
	}
	parsed.StatusCode = status
	if parsed.Message == "" {
		parsed.Message = http.StatusText(status)
	}
	return &parsed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
