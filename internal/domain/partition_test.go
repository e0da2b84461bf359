package domain

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   string
	}{
		{name: "GET root", method: http.MethodGet, path: "/", want: "root"},
		{name: "lowercase get root", method: "get", path: "/", want: "root"},
		{name: "POST root is catch-all", method: http.MethodPost, path: "/", want: "catch-all"},
		{name: "plural products", method: http.MethodGet, path: "/products/42", want: "resource:product:42"},
		{name: "singular product", method: http.MethodGet, path: "/product/42", want: "resource:product:42"},
		{name: "nested segment", method: http.MethodPost, path: "/products/42/reviews", want: "resource:product:42"},
		{name: "mixed case token", method: http.MethodGet, path: "/products/Blue-Shirt", want: "resource:product:blue-shirt"},
		{name: "empty token", method: http.MethodGet, path: "/products/", want: "resource:product:unknown"},
		{name: "no trailing slash", method: http.MethodGet, path: "/products", want: "catch-all"},
		{name: "similar prefix", method: http.MethodGet, path: "/productsx/1", want: "catch-all"},
		{name: "other path", method: http.MethodGet, path: "/about", want: "catch-all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.method, tt.path).String(); got != tt.want {
				t.Errorf("Classify(%q, %q) = %q, want %q", tt.method, tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"42", "42"},
		{"ABC_def-9", "abc_def-9"},
		{"a b", "a_b"},
		{"caf%C3%A9", "caf_"},
		{"drop;table", "drop_table"},
		{"", "unknown"},
		{"%%%", "unknown"},
		{"!!!", "unknown"},
	}
	for _, tt := range tests {
		if got := NormalizeToken(tt.in); got != tt.want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := NormalizeToken(strings.Repeat("x", 200))
	if len(long) != maxTokenLen {
		t.Errorf("expected token truncated to %d, got %d", maxTokenLen, len(long))
	}
}

func TestFilterMatches(t *testing.T) {
	event := Event{
		Path:         "/products/42",
		ResourceType: StringPtr("product"),
		ResourceID:   StringPtr("42"),
		Action:       StringPtr(ActionView),
	}

	if !(Filter{}).Matches(event) {
		t.Error("empty filter should match everything")
	}
	if !(Filter{ResourceType: "product", ResourceID: "42"}).Matches(event) {
		t.Error("expected resource filter to match")
	}
	if (Filter{ResourceType: "product", ResourceID: "42", Action: ActionOrder}).Matches(event) {
		t.Error("action filter should not match a view")
	}
	if (Filter{Action: ActionView}).Matches(Event{}) {
		t.Error("action filter should not match an event without action")
	}
	if (Filter{Path: "/"}).Matches(event) {
		t.Error("path filter should not match a different path")
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	if got := Slice(items, Page{Offset: 1, Limit: 2}); len(got) != 2 || got[0] != 2 {
		t.Errorf("unexpected window: %v", got)
	}
	if got := Slice(items, Page{Offset: 10, Limit: 2}); len(got) != 0 {
		t.Errorf("expected empty window past the end, got %v", got)
	}
	if got := Slice(items, Page{Offset: -3}); len(got) != 5 {
		t.Errorf("expected full window for default page, got %v", got)
	}
}

func TestSliceUnbounded(t *testing.T) {
	items := make([]int, 250)
	if got := Slice(items, Page{}); len(got) != 250 {
		t.Errorf("expected every item for a zero limit, got %d", len(got))
	}
	if got := Slice(items, Page{Offset: 200}); len(got) != 50 {
		t.Errorf("expected the tail after offset, got %d", len(got))
	}
}

func TestPageClamp(t *testing.T) {
	tests := []struct {
		name string
		in   Page
		want Page
	}{
		{"default limit", Page{}, Page{Limit: DefaultPageLimit}},
		{"max limit", Page{Limit: 5000}, Page{Limit: MaxPageLimit}},
		{"negative offset", Page{Offset: -1, Limit: 10}, Page{Limit: 10}},
		{"kept", Page{Offset: 3, Limit: 7}, Page{Offset: 3, Limit: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamp(); got != tt.want {
				t.Errorf("Clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}

	if got := (Page{Offset: -2, Limit: -5}).Normalize(); got != (Page{}) {
		t.Errorf("Normalize() = %+v, want zero page", got)
	}
}

func TestParsePartitionKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "root", want: "root"},
		{in: "catch-all", want: "catch-all"},
		{in: "resource-events", want: "resource-events"},
		{in: "resource:product:42", want: "resource:product:42"},
		{in: "resource:Product:Blue Shirt", want: "resource:product:blue_shirt"},
		{in: "resource:product", wantErr: true},
		{in: "resource::42", wantErr: true},
		{in: "orders", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			key, err := ParsePartitionKey(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Errorf("expected ErrInvalidQuery, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key.String() != tt.want {
				t.Errorf("ParsePartitionKey(%q) = %q, want %q", tt.in, key, tt.want)
			}
		})
	}

	for _, key := range []PartitionKey{RootPartition(), CatchAllPartition(), ResourceEventsPartition(), ResourcePartition("product", "7")} {
		if parsed, err := ParsePartitionKey(key.String()); err != nil || parsed != key {
			t.Errorf("round trip of %v gave %v, %v", key, parsed, err)
		}
	}
}
