package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/paygate/internal/platform/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// ErrFacilitator marks transport-level failures talking to the facilitator:
// unreachable host, timeouts, or a non-2xx answer without a protocol body.
var ErrFacilitator = errors.New("x402: facilitator unavailable")

// DefaultFacilitatorURL is the public x402.org facilitator.
const DefaultFacilitatorURL = "https://www.x402.org/facilitator"

// CDPFacilitatorURL is the Coinbase facilitator used when CDP credentials
// are configured.
const CDPFacilitatorURL = "https://api.cdp.coinbase.com/platform/v2/x402"

// Facilitator verifies and settles payment proofs.
type Facilitator interface {
	Verify(ctx context.Context, payload *PaymentPayload, req PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload *PaymentPayload, req PaymentRequirements) (*SettleResponse, error)
}

// AuthProvider returns extra headers for one facilitator call.
type AuthProvider interface {
	AuthHeaders(ctx context.Context, method, url string) (map[string]string, error)
}

// FacilitatorConfig configures an HTTP facilitator client.
type FacilitatorConfig struct {
	// URL is the facilitator base URL; /verify and /settle are appended.
	URL string

	// HTTPClient is optional; a client with Timeout is built when nil.
	HTTPClient *http.Client

	// Timeout bounds each call when HTTPClient is nil. Defaults to 30s.
	Timeout time.Duration

	// Auth is optional.
	Auth AuthProvider
}

// FacilitatorClient talks to a remote facilitator over HTTP.
type FacilitatorClient struct {
	url        string
	httpClient *http.Client
	auth       AuthProvider
}

var _ Facilitator = (*FacilitatorClient)(nil)

// NewFacilitatorClient creates a client from cfg.
func NewFacilitatorClient(cfg FacilitatorConfig) *FacilitatorClient {
	url := strings.TrimRight(cfg.URL, "/")
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &FacilitatorClient{url: url, httpClient: httpClient, auth: cfg.Auth}
}

// Verify asks the facilitator whether payload satisfies req.
func (c *FacilitatorClient) Verify(
	ctx context.Context,
	payload *PaymentPayload,
	req PaymentRequirements,
) (*VerifyResponse, error) {
	var out VerifyResponse
	ok, err := c.post(ctx, "verify", payload, req, &out)
	if err != nil {
		return nil, err
	}
	if !ok && out.InvalidReason == "" {
		return nil, fmt.Errorf("%w: verify rejected without reason", ErrFacilitator)
	}
	return &out, nil
}

// Settle asks the facilitator to execute the payment.
func (c *FacilitatorClient) Settle(
	ctx context.Context,
	payload *PaymentPayload,
	req PaymentRequirements,
) (*SettleResponse, error) {
	var out SettleResponse
	ok, err := c.post(ctx, "settle", payload, req, &out)
	if err != nil {
		return nil, err
	}
	if !ok && out.ErrorReason == "" {
		return nil, fmt.Errorf("%w: settle rejected without reason", ErrFacilitator)
	}
	return &out, nil
}

// post sends one facilitator request and decodes the answer into out. It
// reports whether the status was 2xx; non-2xx answers with a decodable body
// are protocol rejections, not transport failures.
func (c *FacilitatorClient) post(
	ctx context.Context,
	op string,
	payload *PaymentPayload,
	req PaymentRequirements,
	out any,
) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "x402.facilitator."+op,
		attribute.String("x402.network", req.Network),
		attribute.String("x402.scheme", req.Scheme),
	)
	defer span.End()

	version := payload.X402Version
	if version == 0 {
		version = Version
	}
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         version,
		PaymentPayload:      payload,
		PaymentRequirements: req,
	})
	if err != nil {
		return false, fmt.Errorf("x402: marshal %s request: %w", op, err)
	}

	endpoint := c.url + "/" + op
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("%w: build %s request: %v", ErrFacilitator, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.auth != nil {
		headers, err := c.auth.AuthHeaders(ctx, http.MethodPost, endpoint)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return false, fmt.Errorf("%w: auth headers: %v", ErrFacilitator, err)
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return false, fmt.Errorf("%w: %s: %v", ErrFacilitator, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return false, fmt.Errorf("%w: read %s response: %v", ErrFacilitator, op, err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if err := json.Unmarshal(raw, out); err != nil {
		err = fmt.Errorf("%w: %s returned %d: %s", ErrFacilitator, op, resp.StatusCode, truncate(raw, 200))
		tracing.SetSpanError(ctx, err)
		return false, err
	}
	return ok, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
