package mpesa

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmuchiri/dukachat/internal/domain/payment"
)

type memStore struct {
	attempts map[string]*payment.Attempt
}

func newMemStore() *memStore {
	return &memStore{attempts: make(map[string]*payment.Attempt)}
}

func (m *memStore) Save(_ context.Context, a *payment.Attempt) error {
	m.attempts[a.CheckoutRequestID] = a
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*payment.Attempt, error) {
	a, ok := m.attempts[id]
	if !ok {
		return nil, payment.ErrAttemptNotFound
	}
	return a, nil
}

func TestPassword_Deterministic(t *testing.T) {
	ts := Timestamp(time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC))
	assert.Equal(t, "20240301123045", ts)

	got := Password("174379", "secretkey", ts)
	want := base64.StdEncoding.EncodeToString([]byte("174379secretkey20240301123045"))
	assert.Equal(t, want, got)
	// Bit-reproducible for the same triple.
	assert.Equal(t, got, Password("174379", "secretkey", ts))
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"0712345678":    "254712345678",
		"+254712345678": "254712345678",
		"712345678":     "254712345678",
		"254712345678":  "254712345678",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizePhone(in), "input %q", in)
	}
}

func TestNormalizeResponse_TopLevelSuccess(t *testing.T) {
	resp := NormalizeResponse([]byte(`{
		"MerchantRequestID": "mr-1",
		"CheckoutRequestID": "chk-1",
		"ResponseCode": "0",
		"ResponseDescription": "Success. Request accepted for processing"
	}`))

	assert.True(t, resp.Accepted)
	assert.Equal(t, "chk-1", resp.CheckoutRequestID)
	assert.Equal(t, "mr-1", resp.MerchantRequestID)

	status, retryable := payment.Classify(resp)
	assert.Equal(t, payment.StatusPending, status)
	assert.False(t, retryable)
}

func TestNormalizeResponse_NestedDataSuccess(t *testing.T) {
	resp := NormalizeResponse([]byte(`{
		"status": "success",
		"data": {"ResponseCode": "0", "CheckoutRequestID": "chk-2", "MerchantRequestID": "mr-2"}
	}`))

	assert.True(t, resp.Accepted)
	assert.Equal(t, "chk-2", resp.CheckoutRequestID)
}

func TestNormalizeResponse_ErrorCode(t *testing.T) {
	resp := NormalizeResponse([]byte(`{
		"errorCode": "500.001.1001",
		"errorMessage": "Invalid Access Token"
	}`))

	assert.False(t, resp.Accepted)
	assert.Equal(t, "500.001.1001", resp.ErrorCode)

	status, retryable := payment.Classify(resp)
	assert.Equal(t, payment.StatusFailed, status)
	assert.False(t, retryable)
}

func TestNormalizeResponse_NumericResponseCode(t *testing.T) {
	resp := NormalizeResponse([]byte(`{"ResponseCode": 0, "CheckoutRequestID": "chk-3"}`))
	assert.True(t, resp.Accepted)
}

func TestNormalizeResponse_MalformedBody(t *testing.T) {
	for _, body := range []string{"", "not-json", "[]", `"str"`} {
		resp := NormalizeResponse([]byte(body))
		assert.True(t, resp.TransportFailed, "body %q", body)

		status, retryable := payment.Classify(resp)
		assert.Equal(t, payment.StatusFailed, status)
		assert.True(t, retryable)
	}
}

func TestAccessToken_CachedUntilSafetyMargin(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		w.Write([]byte(`{"access_token": "tok-1", "expires_in": "3599"}`))
	}))
	defer srv.Close()

	store := newMemStore()
	c := NewClient(Config{BaseURL: srv.URL, ConsumerKey: "key", ConsumerSecret: "secret"}, store)
	now := time.Now()
	c.now = func() time.Time { return now }

	tok, err := c.accessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), calls.Load())

	// Well inside the lifetime: served from cache.
	now = now.Add(30 * time.Minute)
	_, err = c.accessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Inside the trailing safety margin: refreshed.
	now = now.Add(25 * time.Minute)
	_, err = c.accessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAccessToken_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, newMemStore())
	_, err := c.accessToken(context.Background())
	require.ErrorIs(t, err, ErrCredentials)
}

func TestInitiate_AcceptedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			w.Write([]byte(`{"access_token": "tok", "expires_in": 3599}`))
		case "/mpesa/stkpush/v1/processrequest":
			require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"ResponseCode": "0", "CheckoutRequestID": "chk-9", "MerchantRequestID": "mr-9"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	store := newMemStore()
	c := NewClient(Config{
		BaseURL:     srv.URL,
		ConsumerKey: "key", ConsumerSecret: "secret",
		Shortcode: "174379", Passkey: "pass",
		DefaultPhone: "254708374149",
	}, store)

	attempt, err := c.Initiate(context.Background(), payment.InitiateRequest{
		OrderID:     "order-1",
		UserID:      "user-1",
		Amount:      decimal.NewFromInt(270),
		Description: "dukachat order",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, attempt.Status)
	assert.Equal(t, "chk-9", attempt.CheckoutRequestID)
	assert.Equal(t, "254708374149", attempt.Phone)

	saved, err := store.Get(context.Background(), "chk-9")
	require.NoError(t, err)
	assert.Equal(t, "order-1", saved.OrderID)
}

func TestInitiate_GatewayRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			w.Write([]byte(`{"access_token": "tok", "expires_in": 3599}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorCode": "404.001.03", "errorMessage": "Invalid shortcode"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, DefaultPhone: "254708374149"}, newMemStore())

	attempt, err := c.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-2",
		Amount:  decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, attempt.Status)
	assert.False(t, attempt.Retryable)
	assert.Equal(t, "Invalid shortcode", attempt.ErrorMessage)
}

func TestInitiate_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			w.Write([]byte(`{"access_token": "tok", "expires_in": 3599}`))
			return
		}
		w.Write([]byte(`garbage`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, DefaultPhone: "254708374149"}, newMemStore())

	attempt, err := c.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-3",
		Amount:  decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, attempt.Status)
	assert.True(t, attempt.Retryable)
}

func TestSimulator_DeterministicIdentifiers(t *testing.T) {
	store := newMemStore()
	sim := NewSimulator(store, "254708374149")

	attempt, err := sim.Initiate(context.Background(), payment.InitiateRequest{
		OrderID: "order-7",
		UserID:  "user-1",
		Amount:  decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, attempt.Status)
	assert.Equal(t, "sim-order-7-chk", attempt.CheckoutRequestID)
	assert.Equal(t, "sim-order-7-req", attempt.MerchantRequestID)
	assert.True(t, decimal.NewFromInt(500).Equal(attempt.PaidAmount))

	saved, err := store.Get(context.Background(), "sim-order-7-chk")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, saved.Status)
}
