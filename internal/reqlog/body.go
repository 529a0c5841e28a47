package reqlog

import (
	"encoding/json"
	"strings"
)

// isJSON reports whether a declared content type describes JSON
// ("application/json", "application/problem+json", ...).
func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

// decodeBody turns captured bytes into the logged body. Empty input yields
// nil. JSON content is decoded; anything that fails to decode, and every
// other content type, is kept as a string. fellBack is true when a JSON
// content type did not parse.
func decodeBody(contentType string, raw []byte) (body any, fellBack bool) {
	if len(raw) == 0 {
		return nil, false
	}
	if isJSON(contentType) {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, false
		}
		return string(raw), true
	}
	return string(raw), false
}
