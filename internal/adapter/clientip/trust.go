package clientip

import (
	"fmt"
	"net/http"
	"strings"
)

// TrustPolicy decides whether the socket peer is a proxy whose forwarded
// address can be accepted without further inspection.
type TrustPolicy string

const (
	TrustNone     TrustPolicy = "none"
	TrustLoopback TrustPolicy = "loopback"
	TrustAll      TrustPolicy = "all"
)

// ParseTrustPolicy accepts none, loopback (or loopback-only) and all.
func ParseTrustPolicy(s string) (TrustPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "false":
		return TrustNone, nil
	case "loopback", "loopback-only":
		return TrustLoopback, nil
	case "all", "true":
		return TrustAll, nil
	}
	return "", fmt.Errorf("unknown trust proxy policy %q", s)
}

// TrustedAddress returns the client address as seen by a trusted proxy chain,
// or "" when the peer is not trusted or forwarded no address.
func (p TrustPolicy) TrustedAddress(remoteAddr string, h http.Header) string {
	hops := forwardedHops(h)
	if len(hops) == 0 {
		return ""
	}

	switch p {
	case TrustAll:
		return hops[0]
	case TrustLoopback:
		if !isLoopback(canonicalPeer(remoteAddr)) {
			return ""
		}
		// Walk from the closest hop outwards, skipping our own loopback proxies.
		for i := len(hops) - 1; i >= 0; i-- {
			if !isLoopback(Canonicalize(hops[i])) {
				return hops[i]
			}
		}
		return hops[0]
	default:
		return ""
	}
}
