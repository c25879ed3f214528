package gateway

import (
	"crypto/subtle"

	"github.com/dohr-michael/stardust/internal/origin"
)

// Access is the hot-reloadable part of the gateway configuration.
type Access struct {
	Secret         string
	AllowedOrigins []string
	DefaultOrigin  string
}

type accessPolicy struct {
	gate          *origin.Gate
	defaultOrigin string
	secret        []byte
}

func newAccessPolicy(a Access) *accessPolicy {
	return &accessPolicy{
		gate:          origin.NewGate(a.AllowedOrigins),
		defaultOrigin: a.DefaultOrigin,
		secret:        []byte(a.Secret),
	}
}

// allowOriginHeader returns the Access-Control-Allow-Origin value for a
// request origin: the granted origin, else the configured default.
func (p *accessPolicy) allowOriginHeader(requestOrigin string) (string, bool) {
	if granted, ok := p.gate.Resolve(requestOrigin); ok {
		return granted, true
	}
	if p.defaultOrigin != "" {
		return p.defaultOrigin, true
	}
	return "", false
}

// trusts reports whether a browser from requestOrigin may open the change
// feed: the gate grants it or it is the default origin.
func (p *accessPolicy) trusts(requestOrigin string) bool {
	if _, ok := p.gate.Resolve(requestOrigin); ok {
		return true
	}
	return p.defaultOrigin != "" && requestOrigin == p.defaultOrigin
}

// authorized compares the credential header against the shared secret in
// constant time. With no secret configured nothing is authorized.
func (p *accessPolicy) authorized(credential string) bool {
	if len(p.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(credential), p.secret) == 1
}
