// Package carrier wraps the SignalWire LaML REST API (Twilio-compatible)
// used to send messages and provision numbers.
package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiVersionPath   = "/api/laml/2010-04-01"
	defaultUserAgent = "assistext-carrier/1.0"
)

// Config controls how the carrier client behaves.
type Config struct {
	SpaceURL  string
	ProjectID string
	AuthToken string
	// BaseURL overrides the space-derived account URL.
	BaseURL           string
	StatusCallbackURL string
	Timeout           time.Duration
	MaxAttempts       int
	Backoff           time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
	UserAgent         string
}

// Client talks to one SignalWire project.
type Client struct {
	projectID         string
	authToken         string
	baseURL           string
	statusCallbackURL string
	httpClient        *http.Client
	maxAttempts       int
	backoff           time.Duration
	logger            *slog.Logger
	userAgent         string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("carrier: project id and auth token are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		space := strings.TrimSpace(cfg.SpaceURL)
		if space == "" {
			return nil, errors.New("carrier: space url is required")
		}
		if !strings.HasPrefix(space, "http://") && !strings.HasPrefix(space, "https://") {
			space = "https://" + space
		}
		baseURL = strings.TrimRight(space, "/") + apiVersionPath + "/Accounts/" + url.PathEscape(cfg.ProjectID)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		projectID:         cfg.ProjectID,
		authToken:         cfg.AuthToken,
		baseURL:           baseURL,
		statusCallbackURL: cfg.StatusCallbackURL,
		httpClient:        httpClient,
		maxAttempts:       maxAttempts,
		backoff:           backoff,
		logger:            logger,
		userAgent:         userAgent,
	}, nil
}

// Send delivers an outbound message. Retryable failures are repeated with
// exponential backoff up to the configured attempt cap; fatal failures return
// after the first attempt. Send never returns a Go error: every failure is
// described by the result.
func (c *Client) Send(ctx context.Context, req SendRequest) SendResult {
	if err := req.validate(); err != nil {
		return SendResult{Outcome: OutcomeFatal, ErrorCode: "invalid_request", ErrorMessage: err.Error()}
	}

	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	if req.Body != "" {
		form.Set("Body", req.Body)
	}
	for _, media := range req.MediaURLs {
		form.Add("MediaUrl", media)
	}
	callback := req.StatusCallbackURL
	if callback == "" {
		callback = c.statusCallbackURL
	}
	if callback != "" {
		form.Set("StatusCallback", callback)
	}

	var result SendResult
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		result = c.sendOnce(ctx, form)
		result.Attempts = attempt + 1
		if result.Outcome != OutcomeRetryable || attempt == c.maxAttempts-1 {
			return result
		}
		c.logRetry("/Messages.json", attempt, result.HTTPStatus, result.ErrorCode, result.ErrorMessage)
		if err := c.sleep(ctx, attempt); err != nil {
			result.ErrorMessage = fmt.Sprintf("%s (retry aborted: %v)", result.ErrorMessage, err)
			return result
		}
	}
	return result
}

func (c *Client) sendOnce(ctx context.Context, form url.Values) SendResult {
	status, data, err := c.do(ctx, http.MethodPost, "/Messages.json", nil, form)
	if err != nil {
		if ctx.Err() != nil {
			return SendResult{Outcome: OutcomeRetryable, ErrorCode: "canceled", ErrorMessage: ctx.Err().Error()}
		}
		return SendResult{Outcome: OutcomeRetryable, ErrorCode: "network", ErrorMessage: err.Error()}
	}
	if status < 200 || status > 299 {
		apiErr := decodeAPIError(status, data)
		return SendResult{
			Outcome:      Classify(status, apiErr.Code),
			HTTPStatus:   status,
			ErrorCode:    apiErr.CodeString(),
			ErrorMessage: apiErr.Message,
		}
	}

	var msg MessageRecord
	if err := json.Unmarshal(data, &msg); err != nil {
		// Accepted but unreadable; the message may exist, so retrying would risk a duplicate.
		return SendResult{Outcome: OutcomeFatal, HTTPStatus: status, ErrorCode: "decode", ErrorMessage: err.Error()}
	}
	result := SendResult{Outcome: OutcomeSent, MessageID: msg.SID, Status: msg.Status, HTTPStatus: status}
	if msg.ErrorCode != nil && (msg.Status == "failed" || msg.Status == "undelivered") {
		result.Outcome = Classify(0, *msg.ErrorCode)
		if result.Outcome == OutcomeSent {
			result.Outcome = OutcomeFatal
		}
		result.ErrorCode = strconv.Itoa(*msg.ErrorCode)
		if msg.ErrorMessage != nil {
			result.ErrorMessage = *msg.ErrorMessage
		}
	}
	return result
}

// SearchNumbers lists purchasable local numbers.
func (c *Client) SearchNumbers(ctx context.Context, criteria SearchCriteria) ([]AvailableNumber, error) {
	country := strings.ToUpper(strings.TrimSpace(criteria.Country))
	if country == "" {
		country = "US"
	}
	q := url.Values{}
	if criteria.AreaCode != "" {
		q.Set("AreaCode", criteria.AreaCode)
	}
	if criteria.Contains != "" {
		q.Set("Contains", criteria.Contains)
	}
	if criteria.InRegion != "" {
		q.Set("InRegion", criteria.InRegion)
	}
	if criteria.InLocality != "" {
		q.Set("InLocality", criteria.InLocality)
	}
	if criteria.SMSEnabled {
		q.Set("SmsEnabled", "true")
	}
	if criteria.MMSEnabled {
		q.Set("MmsEnabled", "true")
	}
	limit := criteria.Limit
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	q.Set("PageSize", strconv.Itoa(limit))

	data, err := c.invoke(ctx, http.MethodGet, fmt.Sprintf("/AvailablePhoneNumbers/%s/Local.json", country), q, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Numbers []AvailableNumber `json:"available_phone_numbers"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("carrier: decode search response: %w", err)
	}
	return resp.Numbers, nil
}

// PurchaseNumber buys a number. Purchases are never retried automatically
// because a lost response could otherwise buy the number twice.
func (c *Client) PurchaseNumber(ctx context.Context, req PurchaseRequest) (*PurchasedNumber, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("PhoneNumber", req.PhoneNumber)
	if req.FriendlyName != "" {
		form.Set("FriendlyName", req.FriendlyName)
	}
	if req.SMSURL != "" {
		form.Set("SmsUrl", req.SMSURL)
		form.Set("SmsMethod", http.MethodPost)
	}
	callback := req.StatusCallbackURL
	if callback == "" {
		callback = c.statusCallbackURL
	}
	if callback != "" {
		form.Set("StatusCallback", callback)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/IncomingPhoneNumbers.json", nil, form, false)
	if err != nil {
		return nil, err
	}
	var purchased PurchasedNumber
	if err := json.Unmarshal(data, &purchased); err != nil {
		return nil, fmt.Errorf("carrier: decode purchase response: %w", err)
	}
	return &purchased, nil
}

// FetchMessage returns the carrier's current record for a message.
func (c *Client) FetchMessage(ctx context.Context, sid string) (*MessageRecord, error) {
	if strings.TrimSpace(sid) == "" {
		return nil, errors.New("carrier: message sid required")
	}
	data, err := c.invoke(ctx, http.MethodGet, "/Messages/"+url.PathEscape(sid)+".json", nil, nil, true)
	if err != nil {
		return nil, err
	}
	var msg MessageRecord
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("carrier: decode message: %w", err)
	}
	return &msg, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, query, form url.Values, retry bool) ([]byte, error) {
	attempts := 1
	if retry {
		attempts = c.maxAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		status, data, err := c.do(ctx, method, path, query, form)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("carrier: http error: %w", err)
		} else if status >= 200 && status < 300 {
			return data, nil
		} else {
			apiErr := decodeAPIError(status, data)
			if !apiErr.Retryable() {
				return nil, apiErr
			}
			lastErr = apiErr
		}
		if attempt == attempts-1 {
			break
		}
		c.logRetry(path, attempt, status, "", lastErr.Error())
		if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path string, query, form url.Values) (int, []byte, error) {
	fullURL := c.buildURL(path, query)
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("carrier: build request: %w", err)
	}
	req.SetBasicAuth(c.projectID, c.authToken)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("carrier: read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, code, reason string) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("carrier retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error_code", code,
		"error", reason,
	)
}
