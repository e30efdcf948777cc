package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"vibe-backend/internal/records"
)

// FingerprintMessages is how many leading messages feed a derived fingerprint.
const FingerprintMessages = 20

// HashKey returns the hex SHA-256 of s.
func HashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DeriveFingerprint hashes the first FingerprintMessages messages so repeat
// submissions from the same session reproduce the same key. It returns ""
// when there is no non-blank message to hash.
func DeriveFingerprint(messages []string) string {
	if len(messages) > FingerprintMessages {
		messages = messages[:FingerprintMessages]
	}
	var b strings.Builder
	for _, m := range messages {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		b.WriteString(m)
		b.WriteByte('\n')
	}
	if b.Len() == 0 {
		return ""
	}
	return "msg:" + HashKey(b.String())
}

// CounterFingerprint is the last-resort key built from the submitted scores
// and counters.
func CounterFingerprint(s records.Scores, totalMessages, totalChars int64) string {
	parts := []string{
		strconv.FormatFloat(s.L, 'f', -1, 64),
		strconv.FormatFloat(s.P, 'f', -1, 64),
		strconv.FormatFloat(s.D, 'f', -1, 64),
		strconv.FormatFloat(s.E, 'f', -1, 64),
		strconv.FormatFloat(s.F, 'f', -1, 64),
		strconv.FormatInt(totalChars, 10),
		strconv.FormatInt(totalMessages, 10),
	}
	return "cnt:" + HashKey(strings.Join(parts, "|"))
}
