// Package util provides utility functions for the MomentPipe application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2 with optimal entropy utilization for non-cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateCycleID generates a short trace id for one generation cycle, used
// only for log correlation.
func GenerateCycleID() string {
	return "c_" + GenerateRandomHex(12)
}

// PickPhrase selects one phrasing variant using the provided picker function.
// The picker abstracts the randomness source so tests can pin the choice.
// Falls back to the first phrase when the picker is nil or misbehaves.
func PickPhrase(pick func(n int) int, phrases []string) string {
	if len(phrases) == 0 {
		return ""
	}
	if pick == nil {
		return phrases[0]
	}
	i := pick(len(phrases))
	if i < 0 || i >= len(phrases) {
		return phrases[0]
	}
	return phrases[i]
}
