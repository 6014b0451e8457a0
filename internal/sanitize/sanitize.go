// Package sanitize provides content redaction and identifier sanitization.
//
// Text is applied to every piece of content before it reaches the store, so
// credentials pasted into a session never become durable knowledge.
// Identifier maps arbitrary project names onto the character set vector-store
// collection names allow: ^[a-z0-9_]{1,64}$.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	// MaxIdentifierLength is the maximum length for collection name components.
	MaxIdentifierLength = 64

	// hashSuffixLength is "_" plus an 8-char hash.
	hashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "general"

	// Redacted replaces every sensitive match.
	Redacted = "[REDACTED]"
)

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:api[_-]?key|password|secret|token|credential|auth)\s*[:=]\s*["']?[\w\-.]{8,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`),
	regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA )?PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9\-._~+/]+=*`),
}

// Text removes credential-shaped substrings from s.
func Text(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllString(s, Redacted)
	}
	return s
}

// Identifier sanitizes a string for use in collection names.
//
// Rules: lowercase, invalid characters to underscores, collapse and trim
// underscores, truncate with a hash suffix when too long, DefaultIdentifier
// when empty.
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	sanitized := b.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultIdentifier
	}
	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized)
	}
	return sanitized
}

func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(hash[:])[:8]
	truncated := strings.TrimRight(s[:MaxIdentifierLength-hashSuffixLength], "_")
	return truncated + suffix
}
