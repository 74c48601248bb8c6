// Package keys derives time-binned cache keys for assistance requests.
package keys

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/oskarhn/gnss-assist/internal/assist"
)

// Key maps a request to its cache key for the time bucket containing now.
// Pure and stable across restarts: the same semantic fields inside the same
// bucket always yield the same key.
func Key(req assist.Request, binHours int, now time.Time) string {
	if binHours < 1 {
		binHours = 1
	}
	bin := int64(binHours) * 3600
	bucket := now.Unix() / bin * bin

	canonical := req.CanonicalFields()
	safe := sanitizeForKey(canonical)

	const maxFieldTextLen = 160
	if len(safe) > maxFieldTextLen {
		safe = safe[:maxFieldTextLen]
	}

	sum := xxhash.Sum64String(canonical)

	return fmt.Sprintf("%s:bin=%d:f=%016x", safe, bucket, sum)
}

// BinDuration returns the bucket width for binHours.
func BinDuration(binHours int) time.Duration {
	if binHours < 1 {
		binHours = 1
	}
	return time.Duration(binHours) * time.Hour
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=' || r == ',':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
