package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/config"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/journal"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"

	"github.com/gorilla/websocket"
)

const (
	playerToken = "player-jwt"
	secondToken = "second-player-jwt"
)

// fakePlatform serves the payments API for one payment.
type fakePlatform struct {
	mu     sync.Mutex
	status string
	tokens map[string]bool // bearer tokens allowed to read the payment
	codes  []string
	auths  []string
}

func (f *fakePlatform) setStatus(s string) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakePlatform) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /payments/payment/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.auths = append(f.auths, r.Header.Get("Authorization"))
		status := f.status
		allowed := f.tokens[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		f.mu.Unlock()
		if !allowed {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"invalid token"}`))
			return
		}
		if r.PathValue("id") != "77" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"payment not found"}`))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         status,
			"amount":         "50.00",
			"currency":       "eur",
			"payment_method": "CARD",
		})
	})
	mux.HandleFunc("POST /payments/payment/{id}/3ds", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Code string `json:"code"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Code == "0000" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid code"}`))
			return
		}
		f.mu.Lock()
		f.codes = append(f.codes, body.Code)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /payments/payment/{id}/steps", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"step":"created","created_at":"2026-10-19T12:00:00Z"},{"step":"3ds_sent","created_at":"2026-10-19T12:00:05Z"}]`))
	})
	return mux
}

func newTestServer(t *testing.T, status string) (*Server, *httptest.Server, *fakePlatform) {
	t.Helper()
	return newTestServerWith(t, status, nil)
}

func newTestServerWith(t *testing.T, status string, tune func(*config.Config)) (*Server, *httptest.Server, *fakePlatform) {
	t.Helper()
	fp := &fakePlatform{status: status, tokens: map[string]bool{playerToken: true, secondToken: true}}
	platformSrv := httptest.NewServer(fp.handler())
	t.Cleanup(platformSrv.Close)

	cfg := &config.Config{
		PlatformURL:     platformSrv.URL,
		PollInterval:    time.Hour,
		CompletionDelay: config.DefaultCompletionDelay,
	}
	if tune != nil {
		tune(cfg)
	}
	s := New(context.Background(), cfg, Deps{Journal: journal.NewFileJournal(t.TempDir())})
	t.Cleanup(s.Close)
	api := httptest.NewServer(s.Handler())
	t.Cleanup(api.Close)
	return s, api, fp
}

func call(t *testing.T, method, url, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func waitGone(t *testing.T, api *httptest.Server, token string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, _ := call(t, http.MethodGet, api.URL+"/reconciler/sessions/77", token, nil)
		if resp.StatusCode == http.StatusNotFound {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still there: %d", resp.StatusCode)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitState(t *testing.T, api *httptest.Server, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body := call(t, http.MethodGet, api.URL+"/reconciler/sessions/77", playerToken, nil)
		if body["state"] == want {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %s", body["state"], want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	_, api, _ := newTestServer(t, "pending")
	resp, body := call(t, http.MethodGet, api.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}

func TestMetricsExposed(t *testing.T) {
	_, api, _ := newTestServer(t, "pending")
	resp, err := http.Get(api.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "payrec_active_sessions") {
		t.Fatal("reconciler metrics not registered")
	}
}

func TestCreateSession_RequiresToken(t *testing.T) {
	_, api, _ := newTestServer(t, "pending")
	resp, body := call(t, http.MethodPost, api.URL+"/reconciler/sessions", "", map[string]string{"payment_id": "77"})
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "TOKEN_REQUIRED" {
		t.Fatalf("got %d %v", resp.StatusCode, body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, api, fp := newTestServer(t, "waiting_3ds")
	resp, body := call(t, http.MethodPost, api.URL+"/reconciler/sessions", playerToken, map[string]string{"payment_id": "77"})
	if resp.StatusCode != http.StatusCreated || body["handle"] == "" {
		t.Fatalf("create = %d %v", resp.StatusCode, body)
	}

	body = waitState(t, api, "waiting_3ds")
	if body["action"] != "enter_3ds_code" || body["awaiting_submission"] != true {
		t.Fatalf("session = %v", body)
	}
	payment, _ := body["payment"].(map[string]interface{})
	if payment["currency"] != "EUR" || payment["payment_method"] != "card" {
		t.Fatalf("payment not normalised: %v", payment)
	}
	fp.mu.Lock()
	auth := fp.auths[0]
	fp.mu.Unlock()
	if auth != "Bearer "+playerToken {
		t.Fatalf("platform saw Authorization %q", auth)
	}

	// another player cannot touch the session
	resp, _ = call(t, http.MethodGet, api.URL+"/reconciler/sessions/77", "someone-else", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign token got %d", resp.StatusCode)
	}

	resp, body = call(t, http.MethodPost, api.URL+"/reconciler/sessions/77/3ds", playerToken, map[string]string{"code": "  "})
	if resp.StatusCode != http.StatusBadRequest || body["field"] != "code" {
		t.Fatalf("blank code = %d %v", resp.StatusCode, body)
	}

	resp, body = call(t, http.MethodPost, api.URL+"/reconciler/sessions/77/3ds", playerToken, map[string]string{"code": "0000"})
	if resp.StatusCode != http.StatusUnprocessableEntity || body["code"] != "SUBMISSION_REJECTED" {
		t.Fatalf("rejected code = %d %v", resp.StatusCode, body)
	}

	resp, body = call(t, http.MethodPost, api.URL+"/reconciler/sessions/77/3ds", playerToken, map[string]string{"code": "123456"})
	if resp.StatusCode != http.StatusAccepted || body["verifying"] != true || body["awaiting_submission"] != false {
		t.Fatalf("accepted code = %d %v", resp.StatusCode, body)
	}
	fp.mu.Lock()
	codes := append([]string(nil), fp.codes...)
	fp.mu.Unlock()
	if len(codes) != 1 || codes[0] != "123456" {
		t.Fatalf("platform codes = %v", codes)
	}

	resp, body = call(t, http.MethodGet, api.URL+"/reconciler/sessions/77/steps", playerToken, nil)
	steps, _ := body["steps"].([]interface{})
	if resp.StatusCode != http.StatusOK || len(steps) != 2 {
		t.Fatalf("steps = %d %v", resp.StatusCode, body)
	}

	resp, body = call(t, http.MethodGet, api.URL+"/reconciler/sessions/77/history", playerToken, nil)
	history, _ := body["history"].([]interface{})
	if resp.StatusCode != http.StatusOK || len(history) != 1 {
		t.Fatalf("history = %d %v", resp.StatusCode, body)
	}

	resp, _ = call(t, http.MethodDelete, api.URL+"/reconciler/sessions/77", playerToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, _ = call(t, http.MethodGet, api.URL+"/reconciler/sessions/77", playerToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("after delete = %d", resp.StatusCode)
	}
}

func TestDraftRoundTrip(t *testing.T) {
	_, api, _ := newTestServer(t, "requires_new_card")
	call(t, http.MethodPost, api.URL+"/reconciler/sessions", playerToken, map[string]string{"payment_id": "77"})
	waitState(t, api, "requires_new_card")

	draft := reconcile.Draft{Card: reconcile.CardFields{Number: "4111", Holder: "Jo"}}
	resp, _ := call(t, http.MethodPut, api.URL+"/reconciler/sessions/77/draft", playerToken, draft)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put draft = %d", resp.StatusCode)
	}
	_, body := call(t, http.MethodGet, api.URL+"/reconciler/sessions/77/draft", playerToken, nil)
	card, _ := body["card"].(map[string]interface{})
	if card["card_number"] != "4111" || card["card_holder"] != "Jo" {
		t.Fatalf("draft = %v", body)
	}

	resp, body = call(t, http.MethodPost, api.URL+"/reconciler/sessions/77/new-card", playerToken,
		reconcile.CardFields{Number: "4111", Expiry: "13/30", CVV: "123", Holder: "Jo"})
	if resp.StatusCode != http.StatusBadRequest || body["field"] != "expiry_date" {
		t.Fatalf("invalid card = %d %v", resp.StatusCode, body)
	}
}

func TestListSessions_OnlyOwn(t *testing.T) {
	_, api, _ := newTestServer(t, "pending")
	call(t, http.MethodPost, api.URL+"/reconciler/sessions", playerToken, map[string]string{"payment_id": "77"})
	_, body := call(t, http.MethodGet, api.URL+"/reconciler/sessions", playerToken, nil)
	if list, _ := body["sessions"].([]interface{}); len(list) != 1 {
		t.Fatalf("own sessions = %v", body)
	}
	_, body = call(t, http.MethodGet, api.URL+"/reconciler/sessions", "someone-else", nil)
	if list, _ := body["sessions"].([]interface{}); len(list) != 0 {
		t.Fatalf("foreign sessions = %v", body)
	}
}

func TestEventStream(t *testing.T) {
	s, api, _ := newTestServer(t, "card_checking")
	call(t, http.MethodPost, api.URL+"/reconciler/sessions", playerToken, map[string]string{"payment_id": "77"})
	waitState(t, api, "card_checking")

	wsURL := "ws" + strings.TrimPrefix(api.URL, "http") + "/reconciler/sessions/77/events?token=" + playerToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first eventView
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.State != reconcile.StateCardChecking || first.Type != "state" {
		t.Fatalf("snapshot = %+v", first)
	}

	sess, ok := s.registry.Get("77")
	if !ok {
		t.Fatal("session missing")
	}
	sess.Dispose()
	// the server closes the socket once the session is gone
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("expected normal close, got %v", err)
			}
			break
		}
	}
}

func TestGetSession_UnknownPayment(t *testing.T) {
	_, api, _ := newTestServer(t, "pending")
	resp, body := call(t, http.MethodGet, api.URL+"/reconciler/sessions/nope", playerToken, nil)
	if resp.StatusCode != http.StatusNotFound || body["code"] != "SESSION_NOT_FOUND" {
		t.Fatalf("got %d %v", resp.StatusCode, body)
	}
}

func TestCreateSession_RejectedTokenGetsNoSession(t *testing.T) {
	s, api, _ := newTestServer(t, "waiting_3ds")
	resp, body := call(t, http.MethodPost, api.URL+"/reconciler/sessions", "forged", map[string]string{"payment_id": "77"})
	if resp.StatusCode != http.StatusUnauthorized || body["code"] != "UNAUTHORIZED" {
		t.Fatalf("forged token = %d %v", resp.StatusCode, body)
	}
	if _, ok := s.registry.Get("77"); ok {
		t.Fatal("forged token registered a session")
	}

	resp, body = call(t, http.MethodPost, api.URL+"/reconciler/sessions", playerToken, map[string]string{"payment_id": "77"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("owner blocked: %d %v", resp.StatusCode, body)
	}
	waitState(t, api, "waiting_3ds")
}

func TestCreateSession_UnknownPayment(t *testing.T) {
	s, api, _ := newTestServer(t, "pending")
	resp, body := call(t, http.MethodPost, api.URL+"/reconciler/sessions", playerToken, map[string]string{"payment_id": "78"})
	if resp.StatusCode != http.StatusNotFound || body["code"] != "PAYMENT_NOT_FOUND" {
		t.Fatalf("got %d %v", resp.StatusCode, body)
	}
	if len(s.registry.List()) != 0 {
		t.Fatal("session registered for a missing payment")
	}
}

func TestCreateSession_ConcurrentTokensOneOwner(t *testing.T) {
	s, api, _ := newTestServer(t, "pending")
	tokens := []string{playerToken, secondToken}
	codes := make([]int, len(tokens))
	var wg sync.WaitGroup
	for i, tok := range tokens {
		wg.Add(1)
		go func(i int, tok string) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, api.URL+"/reconciler/sessions", strings.NewReader(`{"payment_id":"77"}`))
			req.Header.Set("Authorization", "Bearer "+tok)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i, tok)
	}
	wg.Wait()

	var owner, other string
	switch {
	case codes[0] == http.StatusCreated && codes[1] == http.StatusForbidden:
		owner, other = playerToken, secondToken
	case codes[1] == http.StatusCreated && codes[0] == http.StatusForbidden:
		owner, other = secondToken, playerToken
	default:
		t.Fatalf("statuses = %v, want one 201 and one 403", codes)
	}
	if !s.ownedBy("77", owner) || s.ownedBy("77", other) {
		t.Fatal("owner record does not match the created session")
	}
	resp, _ := call(t, http.MethodGet, api.URL+"/reconciler/sessions/77", other, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("losing token got %d", resp.StatusCode)
	}
}

func TestFailedSessionReleasedAfterRetention(t *testing.T) {
	for _, status := range []string{"failed", "cancelled"} {
		s, api, _ := newTestServerWith(t, status, func(cfg *config.Config) {
			cfg.RetainTerminal = 200 * time.Millisecond
		})
		resp, _ := call(t, http.MethodPost, api.URL+"/reconciler/sessions", playerToken, map[string]string{"payment_id": "77"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("%s: create = %d", status, resp.StatusCode)
		}
		waitState(t, api, status)
		waitGone(t, api, playerToken)
		if s.ownedBy("77", playerToken) {
			t.Fatalf("%s: owner kept after release", status)
		}
	}
}
