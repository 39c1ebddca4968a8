package x402

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// RouteConfig declares one payment-protected route.
type RouteConfig struct {
	Method      string
	Path        string
	Price       string
	Description string
	MimeType    string
}

// Route is a protected route with its requirements resolved.
type Route struct {
	RouteConfig
	Accepts []PaymentRequirements
}

// Routes indexes protected routes by RouteKey.
type Routes map[string]*Route

// RouteKey is the lookup key for a method and path.
func RouteKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// ResolveRoutes prices every route as an exact-scheme payment on network.
func ResolveRoutes(cfgs []RouteConfig, network, payTo string, maxTimeoutSeconds int) (Routes, error) {
	routes := make(Routes, len(cfgs))
	for _, cfg := range cfgs {
		req, err := BuildRequirements(network, cfg.Price, payTo, maxTimeoutSeconds)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", RouteKey(cfg.Method, cfg.Path), err)
		}
		if cfg.MimeType == "" {
			cfg.MimeType = defaultMimeType
		}
		cfg.Method = strings.ToUpper(cfg.Method)
		routes[RouteKey(cfg.Method, cfg.Path)] = &Route{
			RouteConfig: cfg,
			Accepts:     []PaymentRequirements{req},
		}
	}
	return routes, nil
}

// Match returns the protected route for r, if any.
func (rs Routes) Match(r *http.Request) (*Route, bool) {
	route, ok := rs[RouteKey(r.Method, r.URL.Path)]
	return route, ok
}

// Protects reports whether any protected route uses path, whatever its method.
func (rs Routes) Protects(path string) bool {
	for _, route := range rs {
		if route.Path == path {
			return true
		}
	}
	return false
}

// AllowedMethods lists the protected methods plus OPTIONS, for CORS.
func (rs Routes) AllowedMethods() string {
	seen := map[string]bool{http.MethodOptions: true}
	methods := make([]string, 0, len(rs)+1)
	for _, route := range rs {
		if !seen[route.Method] {
			seen[route.Method] = true
			methods = append(methods, route.Method)
		}
	}
	sort.Strings(methods)
	return strings.Join(append(methods, http.MethodOptions), ", ")
}

// requirementsFor picks the requirement the payload claims to satisfy.
func (r *Route) requirementsFor(p *PaymentPayload) (PaymentRequirements, bool) {
	scheme, network := p.Scheme, p.Network
	if p.Accepted != nil {
		scheme, network = p.Accepted.Scheme, p.Accepted.Network
	}
	if scheme == "" && network == "" && len(r.Accepts) > 0 {
		return r.Accepts[0], true
	}
	for _, req := range r.Accepts {
		if req.Scheme == scheme && req.Network == network {
			return req, true
		}
	}
	return PaymentRequirements{}, false
}
