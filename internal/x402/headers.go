package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidHeader is returned when a protocol header cannot be decoded.
var ErrInvalidHeader = errors.New("x402: invalid header")

// EncodeHeader serializes v as base64-encoded JSON.
func EncodeHeader(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("x402: encode header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// decodeHeader accepts standard and URL-safe base64, padded or not.
func decodeHeader(value string, v any) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: empty", ErrInvalidHeader)
	}

	var raw []byte
	var err error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if raw, err = enc.DecodeString(value); err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	return nil
}

// PaymentHeader returns the payment proof from either accepted header name,
// preferring PAYMENT-SIGNATURE.
func PaymentHeader(r *http.Request) string {
	if v := r.Header.Get(HeaderPaymentSignature); v != "" {
		return v
	}
	return r.Header.Get(HeaderXPayment)
}

// DecodePaymentPayload decodes a PAYMENT-SIGNATURE or X-PAYMENT value.
func DecodePaymentPayload(value string) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := decodeHeader(value, &p); err != nil {
		return nil, err
	}
	if len(p.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidHeader)
	}
	return &p, nil
}

// DecodePaymentRequired decodes a PAYMENT-REQUIRED value.
func DecodePaymentRequired(value string) (*PaymentRequired, error) {
	var p PaymentRequired
	if err := decodeHeader(value, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeSettleResponse decodes a PAYMENT-RESPONSE value.
func DecodeSettleResponse(value string) (*SettleResponse, error) {
	var s SettleResponse
	if err := decodeHeader(value, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
