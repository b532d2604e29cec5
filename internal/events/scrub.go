package events

import (
	"encoding/json"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

// scrubbedFields are stripped from security payloads for non-admin
// viewers.
var scrubbedFields = []string{"source_ip", "threat_indicators", "confidence_score"}

// ScrubForViewer returns the event as the given viewer may see it.
// Security events lose their sensitive fields unless the viewer is an
// admin; the original event is never mutated.
func ScrubForViewer(e model.Event, admin bool) model.Event {
	if admin || e.Category != model.CategorySecurity || e.Data == nil {
		return e
	}
	m := dataAsMap(e.Data)
	if m == nil {
		return e
	}
	for _, k := range scrubbedFields {
		delete(m, k)
	}
	e.Data = m
	return e
}

func dataAsMap(data any) map[string]any {
	if src, ok := data.(map[string]any); ok {
		out := make(map[string]any, len(src))
		for k, v := range src {
			out[k] = v
		}
		return out
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
