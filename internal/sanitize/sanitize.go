// Package sanitize redacts secret-shaped substrings from tool results before
// they are returned to the agent or written to logs. Sanitization is
// idempotent: running it twice yields the same output.
package sanitize

import (
	"regexp"
	"strings"

	"toolgate/internal/logging"
)

// Redaction markers. Markers contain no secret-shaped characters, so
// re-sanitizing redacted output is a no-op.
const (
	MarkerAPIKey     = "[REDACTED_API_KEY]"
	MarkerBearer     = "[REDACTED_BEARER_TOKEN]"
	MarkerCredential = "[REDACTED_CREDENTIAL]"
	MarkerPrivateKey = "[REDACTED_PRIVATE_KEY]"
	MarkerField      = "[REDACTED]"
)

type pattern struct {
	re     *regexp.Regexp
	marker string
	// keepKey preserves capture group 1 and replaces only the remainder
	// (used for key=value shapes where the key should stay readable).
	keepKey bool
}

// Compiled once at startup.
var patterns = []pattern{
	// Vendor API key shapes
	{re: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`), marker: MarkerAPIKey},
	{re: regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{16,}\b`), marker: MarkerAPIKey},
	{re: regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), marker: MarkerAPIKey},
	{re: regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), marker: MarkerAPIKey},
	{re: regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`), marker: MarkerAPIKey},
	{re: regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`), marker: MarkerAPIKey},

	// Bearer tokens in headers or prose
	{re: regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{16,}=*`), marker: MarkerBearer},

	// Credential-bearing key=value / key: value pairs
	{re: regexp.MustCompile(`(?i)\b((?:api[_-]?key|secret|token|passwd|password|credential)s?\s*[=:]\s*)["']?[^\s"',;&]{6,}["']?`), marker: MarkerCredential, keepKey: true},

	// PEM private key blocks
	{re: regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), marker: MarkerPrivateKey},
}

// sensitiveFieldNames are map keys whose values are redacted regardless of
// value shape.
var sensitiveFieldNames = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"access_key",
	"secret_key",
	"private_key",
	"credential",
	"credentials",
	"authorization",
	"auth_token",
	"session_key",
}

// Sanitizer applies the redaction rules. The zero-extra-config sanitizer from
// NewSanitizer covers the fixed pattern set; extra field names can be added
// per deployment.
type Sanitizer struct {
	fieldNames map[string]bool
}

// NewSanitizer returns a sanitizer with the built-in sensitive-field list.
func NewSanitizer(extraFields ...string) *Sanitizer {
	fields := make(map[string]bool, len(sensitiveFieldNames)+len(extraFields))
	for _, f := range sensitiveFieldNames {
		fields[f] = true
	}
	for _, f := range extraFields {
		fields[strings.ToLower(f)] = true
	}
	return &Sanitizer{fieldNames: fields}
}

// SanitizeString applies the substring patterns to a single string.
func (s *Sanitizer) SanitizeString(in string) string {
	out := in
	for _, p := range patterns {
		if p.keepKey {
			out = p.re.ReplaceAllString(out, "${1}"+p.marker)
		} else {
			out = p.re.ReplaceAllString(out, p.marker)
		}
	}
	if out != in {
		logging.Sanitize("redacted secret-shaped content (%d -> %d bytes)", len(in), len(out))
	}
	return out
}

// Sanitize recursively walks strings, maps and slices, redacting
// secret-shaped substrings and the values of sensitive-named fields.
// Non-container, non-string values pass through unchanged.
func (s *Sanitizer) Sanitize(v any) any {
	switch val := v.(type) {
	case string:
		return s.SanitizeString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if s.isSensitiveField(k) {
				out[k] = s.redactField(inner)
				continue
			}
			out[k] = s.Sanitize(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = s.Sanitize(inner)
		}
		return out
	default:
		return v
	}
}

var markers = map[string]bool{
	MarkerAPIKey:     true,
	MarkerBearer:     true,
	MarkerCredential: true,
	MarkerPrivateKey: true,
	MarkerField:      true,
}

// redactField replaces a sensitive field's value. A string value that is
// entirely one recognized secret shape keeps that shape's marker; anything
// else gets the generic field marker so no part of the value survives.
// Already-redacted values pass through, keeping sanitization idempotent.
func (s *Sanitizer) redactField(v any) string {
	if str, ok := v.(string); ok && str != "" {
		if markers[str] {
			return str
		}
		for _, p := range patterns {
			if !p.keepKey && p.re.FindString(str) == str {
				return p.marker
			}
		}
	}
	return MarkerField
}

// isSensitiveField matches field names case-insensitively, ignoring
// separator noise ("API-Key" == "api_key").
func (s *Sanitizer) isSensitiveField(name string) bool {
	normalized := strings.ToLower(name)
	if s.fieldNames[normalized] {
		return true
	}
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	return s.fieldNames[normalized]
}
