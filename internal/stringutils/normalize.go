package stringutils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeForHash lowercases and collapses whitespace. Deliberately
// conservative: two texts are duplicates only when they differ in case or
// spacing, nothing fuzzier.
func NormalizeForHash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ContentHash fingerprints normalized content for dedup comparisons.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(NormalizeForHash(s)))
	return hex.EncodeToString(sum[:])
}
