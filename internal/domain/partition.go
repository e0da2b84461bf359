package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// PartitionKind identifies the family a partition belongs to.
type PartitionKind string

const (
	KindRoot           PartitionKind = "root"
	KindCatchAll       PartitionKind = "catch-all"
	KindResource       PartitionKind = "resource"
	KindResourceEvents PartitionKind = "resource-events"
)

const (
	// ResourceProduct is the resource type derived from /product(s)/<token> paths.
	ResourceProduct = "product"
	// UnknownToken replaces resource ids that could not be extracted.
	UnknownToken = "unknown"

	maxTokenLen = 48
)

var productPathRe = regexp.MustCompile(`^/products?/([^/?#]*)`)

// PartitionKey names a logical event store.
type PartitionKey struct {
	Kind         PartitionKind
	ResourceType string
	ResourceID   string
}

func RootPartition() PartitionKey     { return PartitionKey{Kind: KindRoot} }
func CatchAllPartition() PartitionKey { return PartitionKey{Kind: KindCatchAll} }

// ResourceEventsPartition is the single shared store for explicit resource events.
func ResourceEventsPartition() PartitionKey { return PartitionKey{Kind: KindResourceEvents} }

// ResourcePartition returns the physically separate partition of one resource.
// Both parts are normalized so the key is safe to embed in storage identifiers.
func ResourcePartition(resourceType, resourceID string) PartitionKey {
	return PartitionKey{
		Kind:         KindResource,
		ResourceType: NormalizeToken(resourceType),
		ResourceID:   NormalizeToken(resourceID),
	}
}

// String renders the key as root, catch-all, resource-events or resource:<type>:<id>.
func (k PartitionKey) String() string {
	if k.Kind == KindResource {
		return string(KindResource) + ":" + k.ResourceType + ":" + k.ResourceID
	}
	return string(k.Kind)
}

// ParsePartitionKey is the inverse of PartitionKey.String. Resource type and id
// are normalized; malformed keys are reported as ErrInvalidQuery.
func ParsePartitionKey(s string) (PartitionKey, error) {
	switch PartitionKind(s) {
	case KindRoot, KindCatchAll, KindResourceEvents:
		return PartitionKey{Kind: PartitionKind(s)}, nil
	}
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != string(KindResource) || parts[1] == "" || parts[2] == "" {
		return PartitionKey{}, fmt.Errorf("%w: unknown partition key %q", ErrInvalidQuery, s)
	}
	return ResourcePartition(parts[1], parts[2]), nil
}

// Classify maps a request to the partition its event belongs to.
func Classify(method, path string) PartitionKey {
	if strings.EqualFold(method, http.MethodGet) && path == "/" {
		return RootPartition()
	}
	if m := productPathRe.FindStringSubmatch(path); m != nil {
		return ResourcePartition(ResourceProduct, m[1])
	}
	return CatchAllPartition()
}

// NormalizeToken lowercases a path token and restricts it to [a-z0-9_-].
// Anything that yields an empty token becomes "unknown".
func NormalizeToken(token string) string {
	if unescaped, err := url.PathUnescape(token); err == nil {
		token = unescaped
	}
	token = strings.ToLower(strings.TrimSpace(token))

	var b strings.Builder
	n := 0
	for _, r := range token {
		if n == maxTokenLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		n++
	}
	if strings.Trim(b.String(), "_") == "" {
		return UnknownToken
	}
	return b.String()
}
