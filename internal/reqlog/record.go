package reqlog

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHeaderWhitelist is the set of response headers copied into a
// ResponseRecord when no whitelist is configured.
var DefaultHeaderWhitelist = []string{"content-type"}

// RequestRecord is the minimal view of an inbound request.
//
// Body holds what the handler read of the request body, so it is only set on
// completed resources. Error is set when reading the body failed.
type RequestRecord struct {
	Method    string      `json:"method"`
	URL       string      `json:"url"`
	Query     url.Values  `json:"query"`
	Headers   http.Header `json:"headers"`
	Body      any         `json:"body,omitempty"`
	Truncated bool        `json:"truncated,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ResponseRecord is what was sent to the client. Body is nil when nothing
// was written.
type ResponseRecord struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body,omitempty"`
	Truncated  bool              `json:"truncated,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Resource is handed to an Adapter. Response is nil when a request is
// announced before the handler runs.
type Resource struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration,omitempty"`
	Request   RequestRecord   `json:"request"`
	Response  *ResponseRecord `json:"response,omitempty"`
}

// LogValue implements slog.LogValuer.
func (r RequestRecord) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("url", r.URL),
		slog.Any("query", r.Query),
		slog.Any("headers", r.Headers),
	}
	if r.Body != nil {
		attrs = append(attrs, slog.Any("body", r.Body))
	}
	if r.Truncated {
		attrs = append(attrs, slog.Bool("truncated", true))
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String("error", r.Error))
	}
	return slog.GroupValue(attrs...)
}

// LogValue implements slog.LogValuer.
func (r ResponseRecord) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("statusCode", r.StatusCode),
		slog.Any("headers", r.Headers),
	}
	if r.Body != nil {
		attrs = append(attrs, slog.Any("body", r.Body))
	}
	if r.Truncated {
		attrs = append(attrs, slog.Bool("truncated", true))
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String("error", r.Error))
	}
	return slog.GroupValue(attrs...)
}

// HeaderWhitelist is a case-insensitive set of header names.
type HeaderWhitelist map[string]struct{}

// NewHeaderWhitelist builds a whitelist from names.
func NewHeaderWhitelist(names ...string) HeaderWhitelist {
	wl := make(HeaderWhitelist, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			wl[name] = struct{}{}
		}
	}
	return wl
}

// Allows reports whether name is whitelisted.
func (wl HeaderWhitelist) Allows(name string) bool {
	_, ok := wl[strings.ToLower(name)]
	return ok
}

// Filter copies the whitelisted headers of h into a new map keyed by the
// lower-case header name. Multiple values are joined with ", ".
func (wl HeaderWhitelist) Filter(h http.Header) map[string]string {
	out := make(map[string]string)
	for name, values := range h {
		if len(values) == 0 || !wl.Allows(name) {
			continue
		}
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}
