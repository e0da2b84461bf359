package pii

import (
	"log/slog"
	"net/netip"
	"strings"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor scrubs sensitive values from event metadata.
type Redactor struct {
	fieldsToRedact map[string]struct{} // lowercased keys, O(1) lookups
	logger         *slog.Logger
}

// NewRedactor creates a new Redactor instance with a given set of fields to redact.
func NewRedactor(fields []string, logger *slog.Logger) *Redactor {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		field = strings.ToLower(strings.TrimSpace(field))
		if field != "" {
			fieldSet[field] = struct{}{}
		}
	}
	return &Redactor{
		fieldsToRedact: fieldSet,
		logger:         logger,
	}
}

// Redact returns a scrubbed copy of metadata; the input map is never modified.
// Configured fields are always replaced. With scrubAddresses, any string value
// that parses as an IP address (optionally with a port) is replaced too, so
// events recorded without raw retention never carry a literal address.
func (r *Redactor) Redact(metadata map[string]any, scrubAddresses bool) (map[string]any, bool) {
	if len(metadata) == 0 {
		return metadata, false
	}
	out, redacted := r.redactMap(metadata, scrubAddresses)
	if redacted {
		r.logger.Debug("redacted event metadata", "address_scrub", scrubAddresses)
	}
	return out, redacted
}

func (r *Redactor) redactMap(in map[string]any, scrubAddresses bool) (map[string]any, bool) {
	out := make(map[string]any, len(in))
	redacted := false
	for k, v := range in {
		if _, ok := r.fieldsToRedact[strings.ToLower(k)]; ok {
			out[k] = RedactedPlaceholder
			redacted = true
			continue
		}
		nv, changed := r.redactValue(v, scrubAddresses)
		out[k] = nv
		redacted = redacted || changed
	}
	return out, redacted
}

func (r *Redactor) redactValue(v any, scrubAddresses bool) (any, bool) {
	switch val := v.(type) {
	case string:
		if scrubAddresses && looksLikeAddress(val) {
			return RedactedPlaceholder, true
		}
		return val, false
	case map[string]any:
		return r.redactMap(val, scrubAddresses)
	case []any:
		out := make([]any, len(val))
		redacted := false
		for i, item := range val {
			nv, changed := r.redactValue(item, scrubAddresses)
			out[i] = nv
			redacted = redacted || changed
		}
		return out, redacted
	default:
		return v, false
	}
}

func looksLikeAddress(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := netip.ParseAddr(s); err == nil {
		return true
	}
	_, err := netip.ParseAddrPort(s)
	return err == nil
}
