package crawler

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	textPrefixRunes = 40
	// collectedAtLayout is ISO-8601 with millisecond precision.
	collectedAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

var fileStampReplacer = strings.NewReplacer(":", "-", ".", "-")

// IdentityKey derives the dedup key for an item. A permalink makes the most
// collision-resistant key; without one the text prefix stands in for it.
func IdentityKey(permalink, timestamp, text string) string {
	if permalink != "" {
		return permalink + "_" + timestamp
	}
	return timestamp + "_" + runePrefix(text, textPrefixRunes)
}

// CheckpointName builds <prefix>_<user>_<timestamp>.json where the timestamp
// is UTC ISO-8601 with ':' and '.' replaced by '-'.
func CheckpointName(prefix, user string, at time.Time) string {
	stamp := fileStampReplacer.Replace(at.UTC().Format("2006-01-02T15:04:05.000Z"))
	return prefix + "_" + user + "_" + stamp + ".json"
}

func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func textLength(s string) int {
	return utf8.RuneCountInString(s)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatCollectedAt(t time.Time) string {
	return t.UTC().Format(collectedAtLayout)
}
