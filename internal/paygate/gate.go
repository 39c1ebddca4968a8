// Package paygate is the HTTP middleware in front of payment-protected
// routes. It owns CORS for those routes, the payment session cookie and
// payer capture, and hands the actual payment negotiation to the x402
// middleware.
package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/phrazzld/paygate/internal/metrics"
	"github.com/phrazzld/paygate/internal/session"
	"github.com/phrazzld/paygate/internal/x402"
)

const (
	corsAllowHeaders  = "Content-Type, Authorization, PAYMENT-SIGNATURE, X-PAYMENT, Access-Control-Expose-Headers"
	corsExposeHeaders = "PAYMENT-REQUIRED, PAYMENT-RESPONSE, X-PAYMENT-RESPONSE, X402-DEBUG-HAS-PAYMENT, X402-DEBUG-PAYMENT-LEN"
)

// Payment wraps a handler with payment negotiation.
type Payment interface {
	Handler(next http.Handler) http.Handler
}

// Config configures a Gate.
type Config struct {
	// Routes is the protected set.
	Routes x402.Routes

	// Origins is the CORS allow-list. Empty echoes any origin.
	Origins []string

	// Debug adds the X402-DEBUG-* headers to protected responses.
	Debug bool
}

// Gate guards the protected routes.
type Gate struct {
	routes   x402.Routes
	origins  map[string]bool
	methods  string
	debug    bool
	sessions *session.Manager
	payment  Payment
	logger   *slog.Logger
}

// New creates a Gate.
func New(cfg Config, sessions *session.Manager, payment Payment, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	origins := make(map[string]bool, len(cfg.Origins))
	for _, o := range cfg.Origins {
		if n := normalizeOrigin(o); n != "" {
			origins[n] = true
		}
	}
	return &Gate{
		routes:   cfg.Routes,
		origins:  origins,
		methods:  cfg.Routes.AllowedMethods(),
		debug:    cfg.Debug,
		sessions: sessions,
		payment:  payment,
		logger:   logger.With("component", "paygate"),
	}
}

// Handler wraps next. Unprotected routes pass through untouched.
func (g *Gate) Handler(next http.Handler) http.Handler {
	paid := g.payment.Handler(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, protected := g.routes.Match(r)
		preflight := r.Method == http.MethodOptions && g.routes.Protects(r.URL.Path)
		if !protected && !preflight {
			next.ServeHTTP(w, r)
			return
		}

		g.applyCORS(w, r)
		if preflight {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ctx := r.Context()
		sessionID := g.sessions.EnsureSessionID(w, r)
		header := x402.PaymentHeader(r)

		if g.debug {
			hasPayment := "0"
			if header != "" {
				hasPayment = "1"
			}
			w.Header().Set(x402.HeaderDebugHasPayment, hasPayment)
			w.Header().Set(x402.HeaderDebugPaymentLength, strconv.Itoa(len(header)))
		}

		payer, err := g.sessions.GetPayer(ctx, sessionID)
		if err != nil {
			g.logger.Warn("read session payer", "session_id", sessionID, "error", err)
		}

		info := Info{SessionID: sessionID, PayerAddress: payer, HasPaymentHeader: header != ""}

		isPaid, err := g.sessions.IsPaid(ctx, sessionID)
		if err != nil {
			g.logger.Error("check session payment", "session_id", sessionID, "error", err)
			writeJSONError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		if isPaid {
			metrics.RecordPaymentOutcome("session_paid")
			next.ServeHTTP(w, r.WithContext(WithInfo(ctx, info)))
			return
		}

		if header != "" {
			if extracted := g.payerFromHeader(header); extracted != "" {
				info.PayerAddress = extracted
				if err := g.sessions.SetPayer(ctx, sessionID, extracted); err != nil {
					g.logger.Warn("cache session payer", "session_id", sessionID, "error", err)
				}
			}
		}

		gw := &gateWriter{ResponseWriter: w}
		paid.ServeHTTP(gw, r.WithContext(WithInfo(ctx, info)))
		gw.finish()

		g.afterResponse(context.WithoutCancel(ctx), gw, &info)
	})
}

// payerFromHeader decodes the proof header. Decode failures mean "no payer
// known" and never fail the request.
func (g *Gate) payerFromHeader(header string) string {
	payload, err := x402.DecodePaymentPayload(header)
	if err != nil {
		g.logger.Debug("ignoring undecodable payment header", "error", err)
		return ""
	}
	payer, _ := x402.ExtractPayer(payload)
	return payer
}

// afterResponse marks the session paid once the payment settled and the
// handler succeeded.
func (g *Gate) afterResponse(ctx context.Context, gw *gateWriter, info *Info) {
	if gw.status >= http.StatusBadRequest {
		return
	}
	settlement := gw.Header().Get(x402.HeaderPaymentResponse)
	if settlement == "" {
		settlement = gw.Header().Get(x402.HeaderXPaymentResponse)
	}
	if settlement == "" {
		return
	}

	if info.PayerAddress == "" {
		if settled, err := x402.DecodeSettleResponse(settlement); err == nil && settled.Payer != "" {
			info.PayerAddress = x402.ChecksumAddress(settled.Payer)
			if err := g.sessions.SetPayer(ctx, info.SessionID, info.PayerAddress); err != nil {
				g.logger.Warn("cache settled payer", "session_id", info.SessionID, "error", err)
			}
		}
	}

	if !g.sessions.Enabled() {
		return
	}
	if _, err := g.sessions.MarkPaid(ctx, info.SessionID); err != nil {
		g.logger.Error("mark session paid", "session_id", info.SessionID, "error", err)
		return
	}
	metrics.RecordSessionMarkedPaid()
}

func (g *Gate) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	h := w.Header()
	if len(g.origins) == 0 || g.origins[normalizeOrigin(origin)] {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
	h.Set("Access-Control-Allow-Methods", g.methods)
}

// normalizeOrigin reduces an origin to lowercase scheme://host[:port].
func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if u, err := url.Parse(origin); err == nil && u.Scheme != "" && u.Host != "" {
		return strings.ToLower(u.Scheme + "://" + u.Host)
	}
	return strings.ToLower(strings.TrimRight(origin, "/"))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// gateWriter records the status and holds back 402/412 bodies so an empty
// challenge body can be replaced with the decoded challenge.
type gateWriter struct {
	http.ResponseWriter
	status  int
	holding bool
	held    bytes.Buffer
}

func (gw *gateWriter) WriteHeader(status int) {
	if gw.status != 0 {
		return
	}
	gw.status = status
	if status == http.StatusPaymentRequired || status == http.StatusPreconditionFailed {
		gw.holding = true
		return
	}
	gw.ResponseWriter.WriteHeader(status)
}

func (gw *gateWriter) Write(p []byte) (int, error) {
	if gw.status == 0 {
		gw.WriteHeader(http.StatusOK)
	}
	if gw.holding {
		return gw.held.Write(p)
	}
	return gw.ResponseWriter.Write(p)
}

func (gw *gateWriter) Unwrap() http.ResponseWriter {
	return gw.ResponseWriter
}

// finish releases a held challenge response.
func (gw *gateWriter) finish() {
	if gw.status == 0 {
		gw.status = http.StatusOK
		return
	}
	if !gw.holding {
		return
	}

	body := gw.held.Bytes()
	if isEmptyBody(body) {
		if header := gw.Header().Get(x402.HeaderPaymentRequired); header != "" {
			if challenge, err := x402.DecodePaymentRequired(header); err == nil {
				if rewritten, err := json.Marshal(challenge); err == nil {
					body = rewritten
					gw.Header().Set("Content-Type", "application/json")
				}
			}
		}
	}
	gw.Header().Del("Content-Length")
	gw.ResponseWriter.WriteHeader(gw.status)
	_, _ = gw.ResponseWriter.Write(body)
}

func isEmptyBody(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null"))
}
