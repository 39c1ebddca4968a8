package paygate

import "context"

// Info is what the gate learned about the caller of a protected route.
type Info struct {
	SessionID        string
	PayerAddress     string
	HasPaymentHeader bool
}

type infoKey struct{}

// WithInfo attaches info to ctx.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// FromContext returns the gate info for the request, if the request passed
// through a protected route.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// PayerFromContext returns the payer address, or "" when none is known.
func PayerFromContext(ctx context.Context) string {
	info, _ := FromContext(ctx)
	return info.PayerAddress
}
