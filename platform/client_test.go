package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
)

func TestGetPayment_DecodesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/payments/payment/42" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "status": "waiting_3ds", "amount": "150.50", "currency": "eur",
			"payment_method": "CARD", "card_holder": "JANE DOE", "card_number": "**** 4242"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/", StaticToken("tok-1"), nil)
	rec, err := c.GetPayment(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if rec.PaymentID != "42" || rec.Status != "waiting_3ds" {
		t.Errorf("got %+v", rec)
	}
	if !rec.Amount.Equal(decimal.RequireFromString("150.50")) {
		t.Errorf("Amount = %s", rec.Amount)
	}
	if rec.Method != MethodCard || rec.Currency != "EUR" {
		t.Errorf("normalize: method %q currency %q", rec.Method, rec.Currency)
	}
	if rec.CardHolder != "JANE DOE" || rec.MaskedCardNumber != "**** 4242" {
		t.Errorf("card display data: %+v", rec)
	}
}

func TestGetPayment_NumericAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "pending", "amount": 25, "currency": "USD", "payment_method": "crypto"}`))
	}))
	defer srv.Close()

	rec, err := NewClient(srv.URL, StaticToken("t"), nil).GetPayment(context.Background(), "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Amount.Equal(decimal.NewFromInt(25)) || rec.Method != MethodCrypto {
		t.Errorf("got %+v", rec)
	}
}

func TestDo_NonOKReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "Invalid 3DS code"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, StaticToken("t"), nil).SubmitThreeDSCode(context.Background(), "7", "000000")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != http.StatusBadRequest || se.Message != "Invalid 3DS code" || !se.Rejected() {
		t.Errorf("got %+v rejected=%v", se, se.Rejected())
	}
	if !IsStatus(err, http.StatusBadRequest) {
		t.Error("IsStatus should match 400")
	}
}

func TestStatusError_Rejected(t *testing.T) {
	cases := map[int]bool{400: true, 404: true, 422: true, 408: false, 429: false, 500: false, 503: false}
	for code, want := range cases {
		if got := (&StatusError{StatusCode: code}).Rejected(); got != want {
			t.Errorf("status %d: Rejected() = %v want %v", code, got, want)
		}
	}
}

func TestDo_RefreshesOnceOn401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status": "card_checking", "amount": "10", "currency": "EUR", "payment_method": "card"}`))
	}))
	defer srv.Close()

	var refreshed atomic.Int32
	tokens := TokenFunc{
		Get: func(context.Context) (string, error) { return "stale", nil },
		Renew: func(context.Context) (string, error) {
			refreshed.Add(1)
			return "fresh", nil
		},
	}
	rec, err := NewClient(srv.URL, tokens, nil).GetPayment(context.Background(), "9")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "card_checking" {
		t.Errorf("Status = %q", rec.Status)
	}
	if calls.Load() != 2 || refreshed.Load() != 1 {
		t.Errorf("calls=%d refreshed=%d, want 2 and 1", calls.Load(), refreshed.Load())
	}
}

func TestDo_UnauthorizedWithoutRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, StaticToken("t"), nil).GetPayment(context.Background(), "9")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSubmitNewCard_Body(t *testing.T) {
	var got NewCardRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/payment/abc/new-card" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		_, _ = w.Write([]byte(`{"message": "ok"}`))
	}))
	defer srv.Close()

	card := NewCardRequest{CardNumber: "4111111111111111", ExpiryDate: "04/29", CVV: "123", CardHolder: "Jane Doe"}
	if err := NewClient(srv.URL, StaticToken("t"), nil).SubmitNewCard(context.Background(), "abc", card); err != nil {
		t.Fatal(err)
	}
	if got != card {
		t.Errorf("sent %+v want %+v", got, card)
	}
}

func TestCreatePayment_ReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/create-card-payment":
			_, _ = w.Write([]byte(`{"payment_id": 1001}`))
		case "/payments/create-bank-payment":
			_, _ = w.Write([]byte(`{"payment_id": "6f1c2a"}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("t"), nil)
	id, err := c.CreateCardPayment(context.Background(), CardPaymentRequest{Amount: decimal.NewFromInt(50)})
	if err != nil || id != "1001" {
		t.Errorf("card: id=%q err=%v", id, err)
	}
	id, err = c.CreateBankPayment(context.Background(), BankPaymentRequest{Amount: decimal.NewFromInt(50)})
	if err != nil || id != "6f1c2a" {
		t.Errorf("bank: id=%q err=%v", id, err)
	}
	if _, err := c.CreateCryptoPayment(context.Background(), CryptoPaymentRequest{Amount: decimal.NewFromInt(1)}); err == nil {
		t.Error("crypto: expected error for missing payment_id")
	}
}

func TestGetPaymentSteps_BothShapes(t *testing.T) {
	bodies := map[string]string{
		"/payments/payment/a/steps": `[{"step": "created", "created_at": "2026-01-02T10:00:00Z"}]`,
		"/payments/payment/b/steps": `{"steps": [{"step": "created", "created_at": "2026-01-02T10:00:00Z"}, {"step": "3ds_requested", "created_at": "2026-01-02T10:01:00Z"}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(bodies[r.URL.Path]))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("t"), nil)
	a, err := c.GetPaymentSteps(context.Background(), "a")
	if err != nil || len(a) != 1 || a[0].Step != "created" {
		t.Errorf("array shape: %+v err=%v", a, err)
	}
	b, err := c.GetPaymentSteps(context.Background(), "b")
	if err != nil || len(b) != 2 || b[1].Step != "3ds_requested" {
		t.Errorf("wrapped shape: %+v err=%v", b, err)
	}
}
