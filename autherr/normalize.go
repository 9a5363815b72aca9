package autherr

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
)

// Shaper is implemented by transport errors that carry the decoded response
// body. The returned map mirrors the body with the HTTP status merged in.
type Shaper interface {
	Shape() map[string]any
}

// statusPaths is the probe order for a numeric status. The transport can
// surface failures in several shapes, so no single location is trusted.
var statusPaths = [][]string{
	{"status"},
	{"response", "status"},
	{"data", "status"},
	{"meta", "status"},
	{"statusCode"},
}

// Normalize converts any error into an *AuthError. It is the single
// normalization boundary; nil yields nil.
func Normalize(err error) *AuthError {
	if err == nil {
		return nil
	}

	var existing *AuthError
	if errors.As(err, &existing) {
		return existing
	}

	normalized := &AuthError{
		Message: err.Error(),
		Kind:    classify(err),
		cause:   err,
	}

	var shaper Shaper
	if errors.As(err, &shaper) {
		shape := shaper.Shape()
		normalized.Status = probeStatus(shape)
		normalized.Code = probeCode(shape)
		normalized.Fields = probeFields(shape)
		if normalized.Kind == KindUnknown {
			normalized.Kind = KindProtocol
			if normalized.Status == 400 && len(normalized.Fields) > 0 {
				normalized.Kind = KindValidation
			}
		}
	}

	return normalized
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrCSRF), errors.Is(err, ErrNonceMismatch):
		return KindCSRF
	case errors.Is(err, ErrPopupBlocked):
		return KindPopupBlocked
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrNotConfigured):
		return KindConfig
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrInProgress):
		return KindProtocol
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return KindNetwork
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindUnknown
}

func probeStatus(shape map[string]any) int {
	for _, path := range statusPaths {
		if v, ok := lookup(shape, path...); ok {
			if n, ok := asInt(v); ok {
				return n
			}
		}
	}
	return 0
}

func probeCode(shape map[string]any) string {
	for _, entries := range errorArrays(shape) {
		if len(entries) == 0 {
			continue
		}
		first, ok := entries[0].(map[string]any)
		if !ok {
			continue
		}
		if code, ok := first["code"].(string); ok {
			return code
		}
	}
	return ""
}

func probeFields(shape map[string]any) map[string][]string {
	var fields map[string][]string
	for _, entries := range errorArrays(shape) {
		for _, entry := range entries {
			item, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			param, _ := item["param"].(string)
			message, _ := item["message"].(string)
			if param == "" || message == "" {
				continue
			}
			if fields == nil {
				fields = make(map[string][]string)
			}
			fields[param] = append(fields[param], message)
		}
		if fields != nil {
			return fields
		}
	}
	return fields
}

// errorArrays returns the top-level errors array first, then data.errors.
func errorArrays(shape map[string]any) [][]any {
	var arrays [][]any
	if v, ok := lookup(shape, "errors"); ok {
		if entries, ok := v.([]any); ok {
			arrays = append(arrays, entries)
		}
	}
	if v, ok := lookup(shape, "data", "errors"); ok {
		if entries, ok := v.([]any); ok {
			arrays = append(arrays, entries)
		}
	}
	return arrays
}

func lookup(shape map[string]any, path ...string) (any, bool) {
	var current any = shape
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
