package payment

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

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bgunisex/salon-commerce/internal/orders"
)

// Client talks to a Flutterwave-style hosted payments API. It has no
// timeout of its own; callers bound each call through the context.
type Client struct {
	BaseURL   string
	SecretKey string
	HTTP      *http.Client
}

func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTP:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type customer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber"`
	Name        string `json:"name"`
}

type createPayment struct {
	TxRef       string            `json:"tx_ref"`
	Amount      json.Number       `json:"amount"`
	Currency    string            `json:"currency"`
	RedirectURL string            `json:"redirect_url"`
	Customer    customer          `json:"customer"`
	Meta        map[string]string `json:"meta,omitempty"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// rejection is a 4xx or a non-success envelope: the gateway answered
// and said no.
type rejection struct {
	status  int
	message string
}

func (r *rejection) Error() string {
	return fmt.Sprintf("gateway status %d: %s", r.status, r.message)
}

func (c *Client) CreateSession(ctx context.Context, req orders.SessionRequest) (orders.PaymentSession, error) {
	body := createPayment{
		TxRef:       req.Reference,
		Amount:      json.Number(req.Amount.StringFixed(2)),
		Currency:    req.Currency,
		RedirectURL: req.RedirectURL,
		Customer:    customer{Email: req.Customer.Email, PhoneNumber: req.Customer.Phone, Name: req.Customer.Name},
		Meta:        req.Meta,
	}
	var data struct {
		Link string `json:"link"`
		ID   flexID `json:"id"`
	}
	err := c.call(ctx, http.MethodPost, "/v3/payments", body, &data)
	var rej *rejection
	if errors.As(err, &rej) {
		return orders.PaymentSession{}, orders.GatewayRejected(rej.message)
	}
	if err != nil {
		return orders.PaymentSession{}, err
	}
	if data.Link == "" {
		return orders.PaymentSession{}, orders.GatewayRejected("no payment link returned")
	}

	sessionID := string(data.ID)
	if sessionID == "" {
		sessionID = req.Reference
	}
	return orders.PaymentSession{SessionID: sessionID, RedirectURL: data.Link}, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (orders.Verification, error) {
	var data struct {
		ID       flexID      `json:"id"`
		TxRef    string      `json:"tx_ref"`
		Status   string      `json:"status"`
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	}
	err := c.call(ctx, http.MethodGet, "/v3/transactions/verify_by_reference?tx_ref="+url.QueryEscape(reference), nil, &data)
	var rej *rejection
	if errors.As(err, &rej) {
		return orders.Verification{}, orders.GatewayVerificationFailed(rej.message)
	}
	if err != nil {
		return orders.Verification{}, err
	}

	v := orders.Verification{
		Reference: reference,
		Status:    gatewayStatus(data.Status),
		Currency:  strings.ToUpper(data.Currency),
	}
	if data.TxRef != "" && data.TxRef != reference {
		return orders.Verification{}, orders.GatewayVerificationFailed(
			fmt.Sprintf("gateway answered for %s, asked for %s", data.TxRef, reference))
	}
	v.TransactionID = string(data.ID)
	if data.Amount != "" {
		amt, err := decimal.NewFromString(data.Amount.String())
		if err != nil {
			return orders.Verification{}, orders.GatewayVerificationFailed("unreadable amount " + data.Amount.String())
		}
		v.Amount = amt
	}
	return v, nil
}

// flexID accepts ids sent either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}

func gatewayStatus(s string) orders.GatewayStatus {
	switch strings.ToLower(s) {
	case "successful", "success", "completed":
		return orders.GatewaySuccessful
	case "failed", "cancelled", "canceled", "error":
		return orders.GatewayFailed
	}
	return orders.GatewayPending
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return orders.GatewayUnavailable(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return orders.GatewayUnavailable(err)
	}
	if resp.StatusCode >= 500 {
		return orders.GatewayUnavailable(fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &rejection{status: resp.StatusCode, message: http.StatusText(resp.StatusCode)}
		}
		return orders.GatewayUnavailable(fmt.Errorf("decode %s: %w", path, err))
	}
	if resp.StatusCode >= 400 || env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = "status " + env.Status
		}
		return &rejection{status: resp.StatusCode, message: msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return orders.GatewayUnavailable(fmt.Errorf("decode %s data: %w", path, err))
		}
	}
	return nil
}
