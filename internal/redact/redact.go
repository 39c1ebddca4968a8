// Package redact strips credentials and payment material from strings
// before they are logged. Payer addresses are public and are kept.
package redact

import "regexp"

// Placeholders written in place of redacted values.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	RedactedPaymentPlaceholder    = "[REDACTED_PAYMENT]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; later rules see the output of earlier ones.
var rules = []rule{
	// PEM private keys, e.g. CDP EC secrets
	{regexp.MustCompile(`-----BEGIN [A-Z ]+-----[\s\S]*?-----END [A-Z ]+-----`), RedactedKeyPlaceholder},

	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), RedactedJWTPlaceholder},

	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/=]{8,}`), "Bearer " + RedactedCredentialPlaceholder},

	// user:password in connection URLs (postgres://, redis://, ...)
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://)[^/@\s:]*(:[^@\s/]*)?@`), "${1}" + RedactedCredentialPlaceholder + "@"},

	// Encoded payment proofs and settlement receipts
	{
		regexp.MustCompile(`(?i)(payment-signature|x-payment|payment-response|x-payment-response)(["'\s:=]+)[A-Za-z0-9+/=_-]{16,}`),
		"${1}${2}" + RedactedPaymentPlaceholder,
	},

	{
		regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|token)(["'\s:=]+)[^"'&\s,]{3,}`),
		"${1}${2}" + RedactedCredentialPlaceholder,
	},

	// Google API keys
	{regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), RedactedKeyPlaceholder},

	// 32-byte and longer hex strings: private keys and signatures
	{regexp.MustCompile(`0x[0-9a-fA-F]{64,}`), RedactedKeyPlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
