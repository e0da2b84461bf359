package clientip

import (
	"net/http"
	"strings"
)

const (
	HeaderForwardedFor   = "X-Forwarded-For"
	HeaderCFConnectingIP = "CF-Connecting-IP"
	HeaderRealIP         = "X-Real-IP"
)

// Request carries the inputs the resolver looks at.
type Request struct {
	// TrustedAddr is the address reported by a trusted upstream proxy, if any.
	TrustedAddr string
	Header      http.Header
	RemoteAddr  string
}

// Resolver picks the client address out of request metadata.
type Resolver struct {
	filterPrivate bool
	trust         TrustPolicy
}

// NewResolver creates a Resolver. With filterPrivate the first public hop of
// X-Forwarded-For is preferred over private ones.
func NewResolver(filterPrivate bool, trust TrustPolicy) *Resolver {
	return &Resolver{filterPrivate: filterPrivate, trust: trust}
}

// Resolve returns the canonical client address or "" when no source yields one.
// Sources in order: trusted proxy, X-Forwarded-For, CF-Connecting-IP, X-Real-IP, socket peer.
func (r *Resolver) Resolve(req Request) string {
	if addr := strings.TrimSpace(req.TrustedAddr); addr != "" {
		return Canonicalize(addr)
	}

	if hops := forwardedHops(req.Header); len(hops) > 0 {
		if r.filterPrivate {
			for _, hop := range hops {
				if IsPublic(hop) {
					return Canonicalize(hop)
				}
			}
		}
		return Canonicalize(hops[0])
	}

	if v := strings.TrimSpace(req.Header.Get(HeaderCFConnectingIP)); v != "" {
		return Canonicalize(v)
	}
	if v := strings.TrimSpace(req.Header.Get(HeaderRealIP)); v != "" {
		return Canonicalize(v)
	}

	return canonicalPeer(req.RemoteAddr)
}

// ResolveHTTP resolves the address of an incoming request, applying the trust policy first.
func (r *Resolver) ResolveHTTP(req *http.Request) string {
	return r.Resolve(Request{
		TrustedAddr: r.trust.TrustedAddress(req.RemoteAddr, req.Header),
		Header:      req.Header,
		RemoteAddr:  req.RemoteAddr,
	})
}

// forwardedHops flattens every X-Forwarded-For header line into trimmed, non-empty entries.
func forwardedHops(h http.Header) []string {
	var hops []string
	for _, line := range h.Values(HeaderForwardedFor) {
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	return hops
}
