package carrier

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	if cfg.ProjectID == "" {
		cfg.ProjectID = "proj-1"
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = "token-1"
	}
	cfg.BaseURL = server.URL + "/api/laml/2010-04-01/Accounts/" + cfg.ProjectID
	cfg.HTTPClient = server.Client()
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientDefaultsAndValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected credential validation error")
	}
	if _, err := New(Config{ProjectID: "p", AuthToken: "t"}); err == nil {
		t.Fatalf("expected space url validation error")
	}
	client, err := New(Config{ProjectID: "p", AuthToken: "t", SpaceURL: "example.signalwire.com"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.baseURL != "https://example.signalwire.com/api/laml/2010-04-01/Accounts/p" {
		t.Fatalf("unexpected base url %s", client.baseURL)
	}
	if client.maxAttempts != 3 || client.backoff != time.Second {
		t.Fatalf("unexpected retry defaults: attempts=%d backoff=%s", client.maxAttempts, client.backoff)
	}
	if client.httpClient.Timeout != 10*time.Second {
		t.Fatalf("expected default timeout")
	}
}

func TestSendSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/Accounts/proj-1/Messages.json") {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "proj-1" || pass != "token-1" {
			t.Fatalf("missing basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("To") != "+15550001111" || r.PostForm.Get("Body") != "hello" {
			t.Fatalf("unexpected form %v", r.PostForm)
		}
		if r.PostForm.Get("StatusCallback") != "https://hooks.example.com/webhooks/status" {
			t.Fatalf("expected status callback, got %q", r.PostForm.Get("StatusCallback"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"SM123","status":"queued","error_code":null}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{StatusCallbackURL: "https://hooks.example.com/webhooks/status"})
	res := client.Send(context.Background(), SendRequest{From: "+15559998888", To: "+15550001111", Body: "hello"})
	if !res.OK() {
		t.Fatalf("expected sent, got %#v", res)
	}
	if res.MessageID != "SM123" || res.Status != "queued" || res.Attempts != 1 {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestSendRetriesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"code":0,"message":"busy","status":503}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"SM999","status":"queued"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	res := client.Send(context.Background(), SendRequest{From: "+15559998888", To: "+15550001111", Body: "hi"})
	if !res.OK() || res.MessageID != "SM999" {
		t.Fatalf("expected eventual success, got %#v", res)
	}
	if res.Attempts != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls=%d)", res.Attempts, calls)
	}
}

func TestSendStopsAtAttemptCap(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"code":20429,"message":"Too Many Requests","status":429}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxAttempts: 3})
	res := client.Send(context.Background(), SendRequest{From: "+15559998888", To: "+15550001111", Body: "hi"})
	if res.Outcome != OutcomeRetryable {
		t.Fatalf("expected retryable outcome, got %s", res.Outcome)
	}
	if res.ErrorCode != "20429" || res.ErrorMessage != "Too Many Requests" {
		t.Fatalf("expected carrier error details, got %#v", res)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestSendDoesNotRetryFatalErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":21211,"message":"The 'To' number is not a valid phone number.","more_info":"https://developer.signalwire.com","status":400}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	res := client.Send(context.Background(), SendRequest{From: "+15559998888", To: "+1555", Body: "hi"})
	if res.Outcome != OutcomeFatal || res.ErrorCode != "21211" {
		t.Fatalf("expected fatal 21211, got %#v", res)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected single call, got %d", got)
	}
}

func TestSendOptedOutIsFatalEvenOn5xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"code":21610,"message":"Attempt to send to unsubscribed recipient","status":500}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	res := client.Send(context.Background(), SendRequest{From: "+15559998888", To: "+15550001111", Body: "hi"})
	if res.Outcome != OutcomeFatal || res.Attempts != 1 {
		t.Fatalf("expected immediate fatal outcome, got %#v", res)
	}
}

func TestSendValidation(t *testing.T) {
	client, err := New(Config{ProjectID: "p", AuthToken: "t", SpaceURL: "x.signalwire.com"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res := client.Send(context.Background(), SendRequest{From: "+1", To: "", Body: "x"})
	if res.Outcome != OutcomeFatal || res.ErrorCode != "invalid_request" {
		t.Fatalf("expected invalid request, got %#v", res)
	}
	res = client.Send(context.Background(), SendRequest{From: "+1", To: "+2", Body: strings.Repeat("a", 1601)})
	if res.Outcome != OutcomeFatal {
		t.Fatalf("expected oversized body rejection, got %#v", res)
	}
}

func TestSendHonorsContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{Backoff: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := client.Send(ctx, SendRequest{From: "+15559998888", To: "+15550001111", Body: "hi"})
	if time.Since(start) > 5*time.Second {
		t.Fatalf("send did not respect context deadline")
	}
	if res.OK() {
		t.Fatalf("expected failure, got %#v", res)
	}
	if !strings.Contains(res.ErrorMessage, "retry aborted") {
		t.Fatalf("expected retry aborted reason, got %q", res.ErrorMessage)
	}
}

func TestSearchNumbers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/AvailablePhoneNumbers/US/Local.json") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("AreaCode") != "512" || q.Get("SmsEnabled") != "true" || q.Get("PageSize") != "5" {
			t.Fatalf("unexpected query %v", q)
		}
		io.WriteString(w, `{"available_phone_numbers":[{"phone_number":"+15125550100","friendly_name":"(512) 555-0100","region":"TX","capabilities":{"voice":true,"SMS":true,"MMS":false}}]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	numbers, err := client.SearchNumbers(context.Background(), SearchCriteria{AreaCode: "512", SMSEnabled: true, Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(numbers) != 1 || numbers[0].PhoneNumber != "+15125550100" || !numbers[0].Capabilities.SMS {
		t.Fatalf("unexpected numbers %#v", numbers)
	}
}

func TestPurchaseNumberIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	_, err := client.PurchaseNumber(context.Background(), PurchaseRequest{PhoneNumber: "+15125550100"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("purchase must not be retried, got %d calls", got)
	}
}

func TestPurchaseNumberSetsWebhooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, err := url.ParseQuery(string(body))
		if err != nil {
			t.Fatalf("parse body: %v", err)
		}
		if form.Get("SmsUrl") != "https://hooks.example.com/webhooks/sms" || form.Get("SmsMethod") != "POST" {
			t.Fatalf("missing sms url: %v", form)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid":"PN1","phone_number":"+15125550100","sms_url":"https://hooks.example.com/webhooks/sms"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	purchased, err := client.PurchaseNumber(context.Background(), PurchaseRequest{
		PhoneNumber: "+15125550100",
		SMSURL:      "https://hooks.example.com/webhooks/sms",
	})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if purchased.SID != "PN1" || purchased.PhoneNumber != "+15125550100" {
		t.Fatalf("unexpected purchase %#v", purchased)
	}
}

func TestFetchMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/Messages/SM123.json") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"sid":"SM123","status":"undelivered","error_code":30008,"error_message":"Unknown error"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	msg, err := client.FetchMessage(context.Background(), "SM123")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if msg.Status != "undelivered" || msg.ErrorCode == nil || *msg.ErrorCode != 30008 {
		t.Fatalf("unexpected message %#v", msg)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		code   int
		want   Outcome
	}{
		{201, 0, OutcomeSent},
		{429, 0, OutcomeRetryable},
		{503, 0, OutcomeRetryable},
		{400, 20429, OutcomeRetryable},
		{400, 30008, OutcomeRetryable},
		{400, 21211, OutcomeFatal},
		{500, 21611, OutcomeFatal},
		{401, 20003, OutcomeFatal},
		{404, 0, OutcomeFatal},
	}
	for _, tt := range tests {
		if got := Classify(tt.status, tt.code); got != tt.want {
			t.Errorf("Classify(%d, %d) = %s, want %s", tt.status, tt.code, got, tt.want)
		}
	}
}
