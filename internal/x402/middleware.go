package x402

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/phrazzld/paygate/internal/metrics"
)

// Payment outcomes, as recorded in metrics.
const (
	OutcomeChallenged       = "challenged"
	OutcomeInvalid          = "invalid"
	OutcomeSettled          = "settled"
	OutcomeSettleFailed     = "settle_failed"
	OutcomeFacilitatorError = "facilitator_error"
	OutcomeHandlerError     = "handler_error"
)

// Middleware enforces payment on protected routes through a facilitator:
// verify before the handler runs, settle only when it succeeded.
type Middleware struct {
	routes      Routes
	facilitator Facilitator
	logger      *slog.Logger
}

// NewMiddleware creates a payment middleware for routes.
func NewMiddleware(routes Routes, facilitator Facilitator, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{
		routes:      routes,
		facilitator: facilitator,
		logger:      logger.With("component", "x402"),
	}
}

// Handler wraps next. Requests to unprotected routes pass through.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := m.routes.Match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		header := PaymentHeader(r)
		if header == "" {
			metrics.RecordPaymentOutcome(OutcomeChallenged)
			m.writeChallenge(w, r, route, paymentRequiredReason)
			return
		}

		payload, err := DecodePaymentPayload(header)
		if err != nil {
			metrics.RecordPaymentOutcome(OutcomeInvalid)
			m.logger.Debug("undecodable payment header", "error", err)
			m.writeChallenge(w, r, route, "invalid payment header")
			return
		}

		req, ok := route.requirementsFor(payload)
		if !ok {
			metrics.RecordPaymentOutcome(OutcomeInvalid)
			m.writeChallenge(w, r, route, "no matching payment requirements")
			return
		}

		verified, err := m.facilitator.Verify(r.Context(), payload, req)
		if err != nil {
			metrics.RecordPaymentOutcome(OutcomeFacilitatorError)
			m.writeFacilitatorError(w, r, "verify", err)
			return
		}
		if !verified.IsValid {
			metrics.RecordPaymentOutcome(OutcomeInvalid)
			m.writeChallenge(w, r, route, verified.InvalidReason)
			return
		}

		buf := newBufferedResponse()
		next.ServeHTTP(buf, r)

		if buf.status >= http.StatusBadRequest {
			metrics.RecordPaymentOutcome(OutcomeHandlerError)
			buf.flushTo(w)
			return
		}

		settled, err := m.facilitator.Settle(r.Context(), payload, req)
		if err != nil {
			metrics.RecordPaymentOutcome(OutcomeFacilitatorError)
			m.writeFacilitatorError(w, r, "settle", err)
			return
		}
		if !settled.Success {
			metrics.RecordPaymentOutcome(OutcomeSettleFailed)
			m.writeChallenge(w, r, route, settled.ErrorReason)
			return
		}

		encoded, err := EncodeHeader(settled)
		if err != nil {
			m.writeFacilitatorError(w, r, "settle", err)
			return
		}
		w.Header().Set(HeaderPaymentResponse, encoded)
		w.Header().Set(HeaderXPaymentResponse, encoded)

		metrics.RecordPaymentOutcome(OutcomeSettled)
		m.logger.Info("payment settled",
			"route", RouteKey(r.Method, r.URL.Path),
			"network", settled.Network,
			"transaction", settled.Transaction,
			"payer", settled.Payer,
		)
		buf.flushTo(w)
	})
}

// Challenge builds the PaymentRequired object for route.
func (m *Middleware) Challenge(r *http.Request, route *Route, reason string) PaymentRequired {
	if reason == "" {
		reason = paymentRequiredReason
	}
	return PaymentRequired{
		X402Version: Version,
		Error:       reason,
		Resource: &ResourceInfo{
			URL:         requestURL(r),
			Description: route.Description,
			MimeType:    route.MimeType,
		},
		Accepts: route.Accepts,
	}
}

// writeChallenge answers 402 with the challenge in PAYMENT-REQUIRED and an
// empty JSON object as the body.
func (m *Middleware) writeChallenge(w http.ResponseWriter, r *http.Request, route *Route, reason string) {
	encoded, err := EncodeHeader(m.Challenge(r, route, reason))
	if err != nil {
		m.logger.Error("encode payment challenge", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set(HeaderPaymentRequired, encoded)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_, _ = w.Write([]byte("{}"))
}

func (m *Middleware) writeFacilitatorError(w http.ResponseWriter, r *http.Request, op string, err error) {
	m.logger.Error("facilitator call failed",
		"op", op,
		"route", RouteKey(r.Method, r.URL.Path),
		"error", err,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte(`{"error":"payment facilitator unavailable"}`))
}

// requestURL rebuilds the absolute URL of r, honoring proxy headers.
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// bufferedResponse holds a handler's response until settlement decides
// whether it may be released.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for k, vv := range b.header {
		dst[k] = vv
	}
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(b.body.Bytes())
}
