package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/railwatch/railwatch/pkg/models"
)

// Normalization order matters: UUIDs and durations contain digits, so
// they are replaced before the bare-number pass.
var (
	reUUID     = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reDuration = regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s?(ns|us|µs|ms|s|m|h)\b`)
	reQuoted   = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	reHex      = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)
	reNumber   = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	reSpaces   = regexp.MustCompile(`\s+`)
)

// NormalizeTemplate reduces a log message to its stable template by
// replacing volatile tokens with typed placeholders.
func NormalizeTemplate(message string) string {
	t := strings.ToLower(message)
	t = reUUID.ReplaceAllString(t, "<uuid>")
	t = reDuration.ReplaceAllString(t, "<duration>")
	t = reQuoted.ReplaceAllString(t, "<string>")
	t = reHex.ReplaceAllString(t, "<num>")
	t = reNumber.ReplaceAllString(t, "<num>")
	t = reSpaces.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// Fingerprint hashes (normalized template, level, service) so recurrences
// of the same kind of failure collapse into one incident.
func Fingerprint(message string, level models.LogLevel, serviceID string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeTemplate(message)))
	h.Write([]byte{0})
	h.Write([]byte(level))
	h.Write([]byte{0})
	h.Write([]byte(serviceID))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
