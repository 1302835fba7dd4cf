package masking

import (
	"net/http"
	"strings"
)

const maskToken = "****"

var sensitiveHeaders = map[string]struct{}{
	"x-api-key":           {},
	"authorization":       {},
	"x-webhook-signature": {},
	"cookie":              {},
	"set-cookie":          {},
	"proxy-authorization": {},
}

// MaskSecret redacts a secret while keeping a minimal suffix for support.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 8 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// RedactHeaders flattens headers into a lowercase map with credentials
// masked.
func RedactHeaders(headers http.Header) map[string]any {
	if len(headers) == 0 {
		return nil
	}

	out := make(map[string]any, len(headers))
	for key, values := range headers {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" {
			continue
		}
		value := strings.Join(values, ", ")
		if _, ok := sensitiveHeaders[name]; ok {
			value = MaskSecret(value)
		}
		out[name] = value
	}
	return out
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
