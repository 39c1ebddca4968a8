// Package x402 implements the server side of the x402 payment protocol: the
// wire types and header codecs, price conversion, payer extraction, an HTTP
// facilitator client and a facilitator-backed payment middleware.
//
// Cryptographic verification of payment proofs is never done here; it is
// delegated to the facilitator.
package x402

import "encoding/json"

// Version is the protocol version emitted in challenges.
const Version = 2

// Header names used by the protocol.
const (
	HeaderPaymentSignature   = "PAYMENT-SIGNATURE"
	HeaderXPayment           = "X-PAYMENT"
	HeaderPaymentRequired    = "PAYMENT-REQUIRED"
	HeaderPaymentResponse    = "PAYMENT-RESPONSE"
	HeaderXPaymentResponse   = "X-PAYMENT-RESPONSE"
	HeaderDebugHasPayment    = "X402-DEBUG-HAS-PAYMENT"
	HeaderDebugPaymentLength = "X402-DEBUG-PAYMENT-LEN"
)

// SchemeExact is the only payment scheme the gateway offers.
const SchemeExact = "exact"

const (
	defaultMimeType       = "application/json"
	paymentRequiredReason = "Payment required"
)

// PaymentRequirements describes one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Asset             string         `json:"asset"`
	Amount            string         `json:"amount"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ResourceInfo describes the resource being paid for.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the challenge carried by the PAYMENT-REQUIRED header
// and, after the gate's rewrite, by the 402 body.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Resource    *ResourceInfo         `json:"resource,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentPayload is the client's payment proof. Version 2 payloads name the
// requirement they satisfy in Accepted; version 1 payloads carry Scheme and
// Network at the top level.
type PaymentPayload struct {
	X402Version int                  `json:"x402Version"`
	Scheme      string               `json:"scheme,omitempty"`
	Network     string               `json:"network,omitempty"`
	Accepted    *PaymentRequirements `json:"accepted,omitempty"`
	Resource    *ResourceInfo        `json:"resource,omitempty"`
	Payload     json.RawMessage      `json:"payload"`
}

// VerifyResponse is the facilitator's answer to /verify.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to /settle. It is also what the
// PAYMENT-RESPONSE header carries back to the client.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// facilitatorRequest is the body posted to /verify and /settle.
type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      *PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}
