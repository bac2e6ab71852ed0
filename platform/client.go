package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client calls the platform payments API using the player's bearer token.
type Client struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, tokens TokenProvider, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000/api"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// WithTokens returns a copy of c that authenticates with tokens. The HTTP client is shared.
func (c *Client) WithTokens(tokens TokenProvider) *Client {
	cp := *c
	cp.tokens = tokens
	return &cp
}

// StatusError is a non-2xx reply from the platform.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("platform: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Rejected reports whether the platform refused the request on business grounds (4xx other
// than timeouts and rate limiting), as opposed to being unavailable.
func (e *StatusError) Rejected() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return false
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return true
	}
	return false
}

// GetPayment returns the current record for paymentID.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentRecord, error) {
	var rec PaymentRecord
	if err := c.do(ctx, http.MethodGet, paymentPath(paymentID, ""), nil, &rec); err != nil {
		return nil, err
	}
	rec.normalize(paymentID)
	return &rec, nil
}

// GetPaymentSteps returns the processing history of a payment. The platform answers either
// with a bare array or with {"steps": [...]}.
func (c *Client) GetPaymentSteps(ctx context.Context, paymentID string) ([]PaymentStep, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, paymentPath(paymentID, "steps"), nil, &raw); err != nil {
		return nil, err
	}
	steps := []PaymentStep{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return steps, nil
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &steps); err != nil {
			return nil, fmt.Errorf("platform: decode steps: %w", err)
		}
		return steps, nil
	}
	var wrapped struct {
		Steps []PaymentStep `json:"steps"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("platform: decode steps: %w", err)
	}
	if wrapped.Steps != nil {
		steps = wrapped.Steps
	}
	return steps, nil
}

// SubmitThreeDSCode sends the 3DS code the player received from their bank.
func (c *Client) SubmitThreeDSCode(ctx context.Context, paymentID, code string) error {
	payload := map[string]string{"code": code}
	return c.do(ctx, http.MethodPost, paymentPath(paymentID, "3ds"), payload, nil)
}

// SubmitNewCard sends replacement card details when the platform asked for a new card.
func (c *Client) SubmitNewCard(ctx context.Context, paymentID string, card NewCardRequest) error {
	return c.do(ctx, http.MethodPost, paymentPath(paymentID, "new-card"), card, nil)
}

// CreateCardPayment starts a card deposit and returns the new payment id.
func (c *Client) CreateCardPayment(ctx context.Context, req CardPaymentRequest) (string, error) {
	return c.create(ctx, "/payments/create-card-payment", req)
}

// CreateCryptoPayment starts a crypto deposit and returns the new payment id.
func (c *Client) CreateCryptoPayment(ctx context.Context, req CryptoPaymentRequest) (string, error) {
	return c.create(ctx, "/payments/create-crypto-payment", req)
}

// CreateBankPayment starts a bank transfer deposit and returns the new payment id.
func (c *Client) CreateBankPayment(ctx context.Context, req BankPaymentRequest) (string, error) {
	return c.create(ctx, "/payments/create-bank-payment", req)
}

func (c *Client) create(ctx context.Context, path string, payload interface{}) (string, error) {
	var data struct {
		PaymentID json.RawMessage `json:"payment_id"`
	}
	if err := c.do(ctx, http.MethodPost, path, payload, &data); err != nil {
		return "", err
	}
	// payment_id is a number on older platform builds and a UUID string on newer ones.
	id := strings.Trim(strings.TrimSpace(string(data.PaymentID)), `"`)
	if id == "" || id == "null" {
		return "", fmt.Errorf("platform: %s: response has no payment_id", path)
	}
	return id, nil
}

func paymentPath(paymentID, action string) string {
	p := "/payments/payment/" + url.PathEscape(paymentID)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do sends one JSON request. On 401 the token provider is asked to refresh once and the
// request is retried with the new token.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("platform: encode %s: %w", path, err)
		}
		body = b
	}
	if c.tokens == nil {
		return ErrUnauthorized
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.logger.Info("platform token rejected, refreshing", zap.String("path", path))
		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, err)
		}
		resp, err = c.send(ctx, method, path, body, token)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			return ErrUnauthorized
		}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("platform: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
		c.logger.Debug("platform returned non-2xx",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", se.Message))
		return se
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("platform: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// errorMessage pulls a human message out of an error body: {"error": ...} from the payments
// views, {"detail": ...} from DRF, or the raw text when it is not JSON.
func errorMessage(body []byte) string {
	var data struct {
		Error   string `json:"error"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return msg
	}
	for _, m := range []string{data.Error, data.Detail, data.Message} {
		if m != "" {
			return m
		}
	}
	return ""
}

// IsStatus reports whether err is a StatusError with the given HTTP status.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
