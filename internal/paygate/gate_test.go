package paygate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/paygate/internal/coord"
	"github.com/phrazzld/paygate/internal/paygate"
	"github.com/phrazzld/paygate/internal/session"
	"github.com/phrazzld/paygate/internal/x402"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFacilitator struct {
	settlePayer string
	settled     int
}

func (f *fakeFacilitator) Verify(context.Context, *x402.PaymentPayload, x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return &x402.VerifyResponse{IsValid: true}, nil
}

func (f *fakeFacilitator) Settle(_ context.Context, _ *x402.PaymentPayload, req x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.settled++
	return &x402.SettleResponse{Success: true, Transaction: "0xtx", Network: req.Network, Payer: f.settlePayer}, nil
}

type fixture struct {
	gate        http.Handler
	sessions    *session.Manager
	facilitator *fakeFacilitator
	seen        []paygate.Info
}

func newFixture(t *testing.T, sessionCfg session.Config, origins []string, handlerStatus int) *fixture {
	t.Helper()
	routes, err := x402.ResolveRoutes([]x402.RouteConfig{
		{Method: http.MethodPost, Path: "/tasks", Price: "$0.001", Description: "task"},
	}, "eip155:84532", "0xPayee", 60)
	require.NoError(t, err)

	f := &fixture{facilitator: &fakeFacilitator{}}
	f.sessions = session.NewManager(coord.NewMemoryStore(), sessionCfg, nil)
	payment := x402.NewMiddleware(routes, f.facilitator, nil)
	g := paygate.New(paygate.Config{Routes: routes, Origins: origins, Debug: true}, f.sessions, payment, nil)

	f.gate = g.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ := paygate.FromContext(r.Context())
		f.seen = append(f.seen, info)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(handlerStatus)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	return f
}

func cookieSessions() session.Config {
	return session.Config{Mode: session.ModeCookie, TTL: time.Hour, CookieName: "x402_session"}
}

func paymentHeader(t *testing.T, payload string) string {
	t.Helper()
	h, err := x402.EncodeHeader(map[string]any{
		"x402Version": 2,
		"accepted":    map[string]any{"scheme": "exact", "network": "eip155:84532"},
		"payload":     json.RawMessage(payload),
	})
	require.NoError(t, err)
	return h
}

func TestGate_UnprotectedRoutePassesThrough(t *testing.T) {
	f := newFixture(t, cookieSessions(), nil, http.StatusOK)
	rec := httptest.NewRecorder()

	f.gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	assert.Empty(t, rec.Header().Get(x402.HeaderDebugHasPayment))
}

func TestGate_PreflightShortCircuits(t *testing.T) {
	f := newFixture(t, cookieSessions(), nil, http.StatusOK)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/tasks", nil)
	req.Header.Set("Origin", "https://App.example.com")

	f.gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://App.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "PAYMENT-SIGNATURE")
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "PAYMENT-REQUIRED")
	assert.Empty(t, rec.Result().Cookies())
	assert.Empty(t, f.seen)
}

func TestGate_CORSAllowList(t *testing.T) {
	f := newFixture(t, cookieSessions(), []string{"https://app.example.com/"}, http.StatusOK)

	allowed := httptest.NewRequest(http.MethodOptions, "/tasks", nil)
	allowed.Header.Set("Origin", "https://APP.example.com")
	rec := httptest.NewRecorder()
	f.gate.ServeHTTP(rec, allowed)
	assert.Equal(t, "https://APP.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	denied := httptest.NewRequest(http.MethodOptions, "/tasks", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.gate.ServeHTTP(rec, denied)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestGate_FirstRequestGetsCookieAndJSONChallenge(t *testing.T) {
	f := newFixture(t, cookieSessions(), nil, http.StatusOK)
	rec := httptest.NewRecorder()

	f.gate.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks", nil))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, "x402_session", rec.Result().Cookies()[0].Name)
	assert.Equal(t, "0", rec.Header().Get(x402.HeaderDebugHasPayment))

	var body x402.PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.X402Version)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "1000", body.Accepts[0].Amount)
	assert.Empty(t, f.seen)
}

func TestGate_SettledPaymentMarksSessionPaid(t *testing.T) {
	f := newFixture(t, cookieSessions(), nil, http.StatusOK)
	header := paymentHeader(t, `{"authorization":{"from":"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"}}`)

	req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	req.Header.Set(x402.HeaderPaymentSignature, header)
	rec := httptest.NewRecorder()
	f.gate.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(x402.HeaderPaymentResponse))
	assert.Equal(t, "1", rec.Header().Get(x402.HeaderDebugHasPayment))
	require.Len(t, f.seen, 1)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", f.seen[0].PayerAddress)
	assert.True(t, f.seen[0].HasPaymentHeader)

	cookie := rec.Result().Cookies()[0]
	paid, err := f.sessions.IsPaid(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.True(t, paid)

	// The next call rides on the paid session without a proof header.
	next := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	next.AddCookie(cookie)
	rec = httptest.NewRecorder()
	f.gate.ServeHTTP(rec, next)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.facilitator.settled)
	require.Len(t, f.seen, 2)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", f.seen[1].PayerAddress)
	assert.False(t, f.seen[1].HasPaymentHeader)
}

func TestGate_PayerFromSettlementWhenPayloadUnknown(t *testing.T) {
	f := newFixture(t, cookieSessions(), nil, http.StatusOK)
	f.facilitator.settlePayer = "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"

	req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	req.Header.Set(x402.HeaderXPayment, paymentHeader(t, `{"transaction":"opaque"}`))
	rec := httptest.NewRecorder()
	f.gate.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	id := rec.Result().Cookies()[0].Value
	payer, err := f.sessions.GetPayer(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", payer)
}

func TestGate_HandlerErrorDoesNotMarkPaid(t *testing.T) {
	f := newFixture(t, cookieSessions(), nil, http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	req.Header.Set(x402.HeaderPaymentSignature, paymentHeader(t, `{"authorization":{"from":"0xabc"}}`))
	rec := httptest.NewRecorder()
	f.gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.facilitator.settled)

	paid, err := f.sessions.IsPaid(context.Background(), rec.Result().Cookies()[0].Value)
	require.NoError(t, err)
	assert.False(t, paid)
}

func TestGate_DisabledSessionsAlwaysChallenge(t *testing.T) {
	f := newFixture(t, session.Config{Mode: session.ModePerRequest, TTL: time.Hour}, nil, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	req.Header.Set(x402.HeaderPaymentSignature, paymentHeader(t, `{"authorization":{"from":"0xabc"}}`))
	rec := httptest.NewRecorder()
	f.gate.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, session.PerRequestID, f.seen[0].SessionID)

	rec = httptest.NewRecorder()
	f.gate.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks", nil))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestGate_UndecodableHeaderIsNotFatal(t *testing.T) {
	f := newFixture(t, cookieSessions(), nil, http.StatusOK)

	req := httptest.NewRequest(http.MethodPost, "/tasks", nil)
	req.Header.Set(x402.HeaderPaymentSignature, "!!!")
	rec := httptest.NewRecorder()
	f.gate.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "3", rec.Header().Get(x402.HeaderDebugPaymentLength))

	var body x402.PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid payment header", body.Error)
}
