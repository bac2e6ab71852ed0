package operator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
)

// Client notifies the operator backend about payment outcomes. Requests are signed GETs:
// the signature is the hex HMAC-SHA256 of every non-action parameter value, concatenated in
// key order.
type Client struct {
	endpoint string
	secret   string
	http     *http.Client
}

type Response struct {
	Code       int             `json:"code"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"-"`
	StatusCode int             `json:"-"`
}

func NewClient(endpoint, secret string) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) call(ctx context.Context, params map[string]string) (*Response, error) {
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if c.secret != "" {
		values.Set("signature", Sign(c.secret, values))
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = values.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("operator %s: status %d: %w", params["action"], resp.StatusCode, err)
	}
	out := &Response{Body: body, StatusCode: resp.StatusCode}
	_ = json.Unmarshal(body, out)
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("operator %s: status %d: %s", params["action"], resp.StatusCode, out.Message)
	}
	return out, nil
}

// Sign computes the request signature over v, skipping "action" and "signature".
func Sign(secret string, v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		if k == "action" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := make([]byte, 0, 256)
	for _, k := range keys {
		buf = append(buf, v.Get(k)...)
	}
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(buf)
	return hex.EncodeToString(m.Sum(nil))
}

// NotifyOutcome reports a payment that reached completed, failed or cancelled.
func (c *Client) NotifyOutcome(ctx context.Context, status string, rec platform.PaymentRecord) (*Response, error) {
	return c.call(ctx, map[string]string{
		"action":         "payment_outcome",
		"payment_id":     rec.PaymentID,
		"status":         status,
		"amount":         rec.Amount.String(),
		"currency":       rec.Currency,
		"payment_method": string(rec.Method),
	})
}
