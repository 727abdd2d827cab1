package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

func gatewayServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "sk_test")
}

func TestCreateSession(t *testing.T) {
	c := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/payments", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "HAIR-TX-1", body["tx_ref"])
		assert.Equal(t, 25.0, body["amount"])
		assert.Equal(t, "NGN", body["currency"])
		assert.Equal(t, "080", body["customer"].(map[string]any)["phonenumber"])

		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://pay.example/abc"}}`))
	})

	s, err := c.CreateSession(context.Background(), orders.SessionRequest{
		Reference: "HAIR-TX-1",
		Amount:    decimal.NewFromInt(25),
		Currency:  "NGN",
		Customer:  orders.Customer{Name: "Ada", Email: "ada@example.com", Phone: "080"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/abc", s.RedirectURL)
	assert.Equal(t, "HAIR-TX-1", s.SessionID)
}

func TestCreateSessionErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request", http.StatusBadRequest, `{"status":"error","message":"Invalid currency"}`, orders.ErrGatewayRejected},
		{"business failure", http.StatusOK, `{"status":"error","message":"merchant disabled"}`, orders.ErrGatewayRejected},
		{"no link", http.StatusOK, `{"status":"success","data":{}}`, orders.ErrGatewayRejected},
		{"server error", http.StatusBadGateway, `oops`, orders.ErrGatewayUnavailable},
		{"garbage", http.StatusOK, `<html>`, orders.ErrGatewayUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.CreateSession(context.Background(), orders.SessionRequest{Reference: "R", Amount: decimal.NewFromInt(1)})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateSessionUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "sk")
	_, err := c.CreateSession(context.Background(), orders.SessionRequest{Reference: "R", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, orders.ErrGatewayUnavailable)
}

func TestVerify(t *testing.T) {
	c := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/transactions/verify_by_reference", r.URL.Path)
		assert.Equal(t, "TX-1", r.URL.Query().Get("tx_ref"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":4441234,"tx_ref":"TX-1","status":"successful","amount":20.5,"currency":"ngn"}}`))
	})

	v, err := c.Verify(context.Background(), "TX-1")
	require.NoError(t, err)
	assert.Equal(t, orders.GatewaySuccessful, v.Status)
	assert.Equal(t, "4441234", v.TransactionID)
	assert.Equal(t, "NGN", v.Currency)
	assert.True(t, v.Amount.Equal(decimal.RequireFromString("20.5")))
}

func TestVerifyStatuses(t *testing.T) {
	for in, want := range map[string]orders.GatewayStatus{
		"successful": orders.GatewaySuccessful,
		"failed":     orders.GatewayFailed,
		"cancelled":  orders.GatewayFailed,
		"pending":    orders.GatewayPending,
		"":           orders.GatewayPending,
	} {
		assert.Equal(t, want, gatewayStatus(in), in)
	}
}

func TestVerifyRejected(t *testing.T) {
	c := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"No transaction was found for this id"}`))
	})
	_, err := c.Verify(context.Background(), "TX-x")
	assert.ErrorIs(t, err, orders.ErrGatewayVerificationFailed)
}

func TestVerifyWrongReference(t *testing.T) {
	c := gatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":{"tx_ref":"TX-2","status":"successful"}}`))
	})
	_, err := c.Verify(context.Background(), "TX-1")
	assert.ErrorIs(t, err, orders.ErrGatewayVerificationFailed)
}

type fakeGateway struct {
	create func(ctx context.Context, req orders.SessionRequest) (orders.PaymentSession, error)
	got    []orders.SessionRequest
}

func (f *fakeGateway) CreateSession(ctx context.Context, req orders.SessionRequest) (orders.PaymentSession, error) {
	f.got = append(f.got, req)
	return f.create(ctx, req)
}

func (f *fakeGateway) Verify(context.Context, string) (orders.Verification, error) {
	return orders.Verification{}, errors.New("not used")
}

func newInitiator(gw orders.Gateway, timeout time.Duration) *Initiator {
	return &Initiator{Gateway: gw, Timeout: timeout, Currency: "NGN", RedirectURL: "https://shop/done", Log: zap.NewNop()}
}

func TestInitiateGeneratesReferenceBeforeCall(t *testing.T) {
	gw := &fakeGateway{create: func(_ context.Context, req orders.SessionRequest) (orders.PaymentSession, error) {
		return orders.PaymentSession{SessionID: "s1", RedirectURL: "https://pay/" + req.Reference}, nil
	}}
	s, err := newInitiator(gw, time.Second).Initiate(context.Background(), orders.LinePoultry,
		decimal.NewFromInt(20), orders.Customer{Name: "Ada"}, nil)
	require.NoError(t, err)

	require.Len(t, gw.got, 1)
	assert.True(t, strings.HasPrefix(s.Reference, "POULTRY-TX-"))
	assert.Equal(t, s.Reference, gw.got[0].Reference)
	assert.Equal(t, "NGN", gw.got[0].Currency)
	assert.Equal(t, "https://shop/done", gw.got[0].RedirectURL)
	assert.Equal(t, "https://pay/"+s.Reference, s.RedirectURL)
}

func TestInitiateTimeoutIsUnavailable(t *testing.T) {
	gw := &fakeGateway{create: func(ctx context.Context, _ orders.SessionRequest) (orders.PaymentSession, error) {
		<-ctx.Done()
		return orders.PaymentSession{}, ctx.Err()
	}}
	s, err := newInitiator(gw, 20*time.Millisecond).Initiate(context.Background(), orders.LineHair,
		decimal.NewFromInt(5), orders.Customer{}, nil)
	assert.ErrorIs(t, err, orders.ErrGatewayUnavailable)
	assert.NotEmpty(t, s.Reference)
}

func TestInitiateKeepsRejection(t *testing.T) {
	gw := &fakeGateway{create: func(context.Context, orders.SessionRequest) (orders.PaymentSession, error) {
		return orders.PaymentSession{}, orders.GatewayRejected("card scheme unsupported")
	}}
	_, err := newInitiator(gw, time.Second).Initiate(context.Background(), orders.LineHair,
		decimal.NewFromInt(5), orders.Customer{}, nil)
	assert.ErrorIs(t, err, orders.ErrGatewayRejected)
}

func TestInitiateUntypedErrorIsUnavailable(t *testing.T) {
	gw := &fakeGateway{create: func(context.Context, orders.SessionRequest) (orders.PaymentSession, error) {
		return orders.PaymentSession{}, errors.New("connection reset")
	}}
	_, err := newInitiator(gw, time.Second).Initiate(context.Background(), orders.LineHair,
		decimal.NewFromInt(5), orders.Customer{}, nil)
	assert.ErrorIs(t, err, orders.ErrGatewayUnavailable)
}

func TestInitiateRejectsNonPositiveAmount(t *testing.T) {
	gw := &fakeGateway{}
	_, err := newInitiator(gw, time.Second).Initiate(context.Background(), orders.LineHair,
		decimal.Zero, orders.Customer{}, nil)
	assert.ErrorIs(t, err, orders.ErrValidation)
	assert.Empty(t, gw.got)
}

func TestWebhook(t *testing.T) {
	assert.True(t, ValidHash("s3cret", "s3cret"))
	assert.False(t, ValidHash("nope", "s3cret"))
	assert.False(t, ValidHash("", ""))

	p, err := ParseWebhook([]byte(`{"event":"charge.completed","data":{"id":285959875,"tx_ref":"HAIR-TX-9","status":"successful"}}`))
	require.NoError(t, err)
	assert.Equal(t, "HAIR-TX-9", p.TxRef)
	assert.Equal(t, "charge.completed:285959875:successful", p.EventID)

	_, err = ParseWebhook([]byte(`{"event":"charge.completed","data":{}}`))
	assert.ErrorIs(t, err, orders.ErrValidation)
}

func TestInitiateWithoutLogger(t *testing.T) {
	gw := &fakeGateway{create: func(context.Context, orders.SessionRequest) (orders.PaymentSession, error) {
		return orders.PaymentSession{}, errors.New("connection reset")
	}}
	in := newInitiator(gw, time.Second)
	in.Log = nil
	assert.NotPanics(t, func() {
		_, err := in.Initiate(context.Background(), orders.LineHair, decimal.NewFromInt(5), orders.Customer{}, nil)
		assert.ErrorIs(t, err, orders.ErrGatewayUnavailable)
	})
}
