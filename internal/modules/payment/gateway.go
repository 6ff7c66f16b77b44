// README: Payment gateway contract, the Paystack-style HTTP adapter and a deterministic fake.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type InitRequest struct {
	Reference   string
	Email       string
	Amount      int64
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

type InitResult struct {
	AuthorizationURL string
	AccessCode       string
}

// VerifyResult is the gateway's view of a transaction. Status is "success"
// for a captured payment; anything else is treated as a failure.
type VerifyResult struct {
	Status          string
	TransactionID   string
	Amount          int64
	PaidAt          time.Time
	GatewayResponse string
}

func (r VerifyResult) Succeeded() bool { return r.Status == "success" }

type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req InitRequest) (*InitResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

// HTTPGateway talks to a Paystack-compatible REST API.
type HTTPGateway struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, secret string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		secret:  secret,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (g *HTTPGateway) Name() string { return "paystack" }

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initBody struct {
	Email       string            `json:"email"`
	Amount      string            `json:"amount"`
	Reference   string            `json:"reference"`
	Currency    string            `json:"currency,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	PaidAt          string `json:"paid_at"`
	GatewayResponse string `json:"gateway_response"`
}

func (g *HTTPGateway) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	body, err := json.Marshal(initBody{
		Email:       req.Email,
		Amount:      strconv.FormatInt(req.Amount, 10),
		Reference:   req.Reference,
		Currency:    req.Currency,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("paystack: marshal request: %w", err)
	}

	var out envelope[initData]
	if err := g.do(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack: initialize rejected: %s", out.Message)
	}
	return &InitResult{AuthorizationURL: out.Data.AuthorizationURL, AccessCode: out.Data.AccessCode}, nil
}

func (g *HTTPGateway) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var out envelope[verifyData]
	if err := g.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("paystack: verify rejected: %s", out.Message)
	}
	res := &VerifyResult{
		Status:          out.Data.Status,
		TransactionID:   strconv.FormatInt(out.Data.ID, 10),
		Amount:          out.Data.Amount,
		GatewayResponse: out.Data.GatewayResponse,
	}
	if out.Data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, out.Data.PaidAt); err == nil {
			res.PaidAt = t
		}
	}
	return res, nil
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("paystack: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("paystack: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("paystack: %s %s returned %d", method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("paystack: unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// FakeGateway succeeds for every reference unless told otherwise.
type FakeGateway struct {
	mu          sync.Mutex
	declined    map[string]string
	initErr     error
	verifyErrs  int
	initCalls   int
	verifyCalls int
	amounts     map[string]int64
	Now         func() time.Time
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		declined: make(map[string]string),
		amounts:  make(map[string]int64),
		Now:      time.Now,
	}
}

func (f *FakeGateway) Name() string { return "fake" }

// Decline makes Verify report the reference as failed with reason.
func (f *FakeGateway) Decline(reference, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined[reference] = reason
}

// FailInitialize makes every Initialize call return err.
func (f *FakeGateway) FailInitialize(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr = err
}

// FailVerify makes the next n Verify calls return a transport error.
func (f *FakeGateway) FailVerify(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErrs = n
}

func (f *FakeGateway) Calls() (initialize, verify int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.verifyCalls
}

func (f *FakeGateway) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	f.amounts[req.Reference] = req.Amount
	return &InitResult{
		AuthorizationURL: "https://checkout.fake.local/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
	}, nil
}

func (f *FakeGateway) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.verifyErrs > 0 {
		f.verifyErrs--
		return nil, fmt.Errorf("fake gateway: connection reset")
	}
	if reason, ok := f.declined[reference]; ok {
		return &VerifyResult{Status: "failed", GatewayResponse: reason, Amount: f.amounts[reference]}, nil
	}
	return &VerifyResult{
		Status:          "success",
		TransactionID:   "txn_" + reference,
		Amount:          f.amounts[reference],
		PaidAt:          f.Now().UTC(),
		GatewayResponse: "Approved",
	}, nil
}
