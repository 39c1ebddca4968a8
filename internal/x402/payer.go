package x402

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/sha3"
)

// PayloadKind identifies which known payload shape carried the payer.
type PayloadKind int

const (
	// PayloadUnknown means no known shape matched.
	PayloadUnknown PayloadKind = iota
	// PayloadEIP3009 is a transferWithAuthorization payload: payload.authorization.from.
	PayloadEIP3009
	// PayloadPermit2 is a Permit2 payload: payload.permit2Authorization.from.
	PayloadPermit2
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadEIP3009:
		return "eip3009"
	case PayloadPermit2:
		return "permit2"
	default:
		return "unknown"
	}
}

type fromField struct {
	From string `json:"from"`
}

// payloadShapes is the closed set of payload variants, tried in order.
// The first shape that yields a non-empty address wins.
var payloadShapes = []struct {
	kind    PayloadKind
	extract func(raw json.RawMessage) string
}{
	{
		kind: PayloadEIP3009,
		extract: func(raw json.RawMessage) string {
			var p struct {
				Authorization *fromField `json:"authorization"`
			}
			if json.Unmarshal(raw, &p) != nil || p.Authorization == nil {
				return ""
			}
			return p.Authorization.From
		},
	},
	{
		kind: PayloadPermit2,
		extract: func(raw json.RawMessage) string {
			var p struct {
				Permit2Authorization *fromField `json:"permit2Authorization"`
			}
			if json.Unmarshal(raw, &p) != nil || p.Permit2Authorization == nil {
				return ""
			}
			return p.Permit2Authorization.From
		},
	},
}

// ExtractPayer returns the payer address from a decoded payment payload and
// the shape it was found in. Unrecognized payloads yield "" and
// PayloadUnknown rather than a guess.
func ExtractPayer(p *PaymentPayload) (string, PayloadKind) {
	if p == nil || len(p.Payload) == 0 {
		return "", PayloadUnknown
	}
	for _, shape := range payloadShapes {
		if from := strings.TrimSpace(shape.extract(p.Payload)); from != "" {
			return ChecksumAddress(from), shape.kind
		}
	}
	return "", PayloadUnknown
}

// ChecksumAddress renders a 20-byte hex address in EIP-55 mixed case.
// Anything that is not such an address is returned unchanged.
func ChecksumAddress(addr string) string {
	if len(addr) != 42 || !strings.HasPrefix(strings.ToLower(addr[:2]), "0x") {
		return addr
	}
	lower := strings.ToLower(addr[2:])
	if _, err := hex.DecodeString(lower); err != nil {
		return addr
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
