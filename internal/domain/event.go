package domain

import "time"

// Well-known actions for resource-scoped events.
const (
	ActionView  = "view"
	ActionOrder = "order"
)

// Page sizes applied at the HTTP boundary. MaxPageLimit also bounds the
// batch size of internal reads.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 1000
)

// Event is a single attribution record. It is created once by the writer
// and never mutated afterwards.
type Event struct {
	ID           string         `json:"id"`
	HashedIP     *string        `json:"hashed_ip"`
	RawIP        *string        `json:"raw_ip,omitempty"`
	UserAgent    *string        `json:"user_agent"`
	Method       string         `json:"method"`
	Path         string         `json:"path"`
	ResourceType *string        `json:"resource_type,omitempty"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Action       *string        `json:"action,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter narrows a partition read. Empty fields match anything.
type Filter struct {
	Path         string
	ResourceType string
	ResourceID   string
	Action       string
}

// Matches reports whether the event satisfies every non-empty field of f.
func (f Filter) Matches(e Event) bool {
	if f.Path != "" && e.Path != f.Path {
		return false
	}
	if f.ResourceType != "" && (e.ResourceType == nil || *e.ResourceType != f.ResourceType) {
		return false
	}
	if f.ResourceID != "" && (e.ResourceID == nil || *e.ResourceID != f.ResourceID) {
		return false
	}
	if f.Action != "" && (e.Action == nil || *e.Action != f.Action) {
		return false
	}
	return true
}

// Page is an offset/limit window over a newest-first listing. A zero Limit
// selects every event after Offset.
type Page struct {
	Offset int
	Limit  int
}

// Unbounded reports whether the page has no limit.
func (p Page) Unbounded() bool { return p.Limit == 0 }

// Normalize clears negative values.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit < 0 {
		p.Limit = 0
	}
	return p
}

// Clamp applies the default and maximum limits used for client-supplied pages.
func (p Page) Clamp() Page {
	p = p.Normalize()
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Slice applies the page window to an already ordered slice.
func Slice[T any](items []T, p Page) []T {
	p = p.Normalize()
	if p.Offset >= len(items) {
		return []T{}
	}
	if p.Unbounded() {
		return items[p.Offset:]
	}
	end := min(p.Offset+p.Limit, len(items))
	return items[p.Offset:end]
}

// ActionStats summarizes a single action on a resource.
type ActionStats struct {
	Total  int64 `json:"total"`
	Unique int64 `json:"unique"`
}

// ResourceStats is the view/order funnel of one resource.
type ResourceStats struct {
	Views          ActionStats `json:"views"`
	Orders         ActionStats `json:"orders"`
	ConversionRate string      `json:"conversionRate"`
}

// PartitionStats counts the events of one partition.
type PartitionStats struct {
	Partition string `json:"partition"`
	Total     int64  `json:"total"`
	Unique    int64  `json:"unique"`
}

// StringPtr returns nil for an empty string, a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
