package messaging

import "net/http"

// EmptyLaMLResponse is the acknowledgment every webhook receives, whatever
// happened internally. Non-200 responses make the carrier retry or disable
// the webhook.
const EmptyLaMLResponse = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(EmptyLaMLResponse))
}
