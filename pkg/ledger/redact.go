package ledger

import (
	"strings"

	"github.com/zen-systems/pipewarden/pkg/schema"
)

var sensitiveKeys = []string{"password", "passwd", "secret", "token", "key", "credential", "auth"}

const redactedValue = "<redacted>"

// Redact walks maps and slices and replaces values under sensitive keys.
// Audit digests are computed over the redacted form so a leaked ledger
// never reproduces credentials, yet stays deterministic for verification.
func Redact(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if isSensitiveKey(key) {
				out[key] = redactedValue
				continue
			}
			out[key] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Redact(item)
		}
		return out
	default:
		return value
	}
}

// DigestRedacted hashes the canonical JSON of the redacted value.
func DigestRedacted(value any) (string, error) {
	return schema.ComputeSHA256(Redact(value))
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
