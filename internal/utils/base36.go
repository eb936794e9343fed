package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/martinlindhe/base36"
)

// UniqueSuffixLen is the length of the random part of UniqueName
const UniqueSuffixLen = 5

func ToBase36Hash(s string) string {
	hash := sha256.Sum224([]byte(s))
	// convert the hash to base36 (alphanumeric) to decrease collision probabilities
	return strings.ToLower(base36.EncodeBytes(hash[:]))
}

func ToBase36HashLen(s string, l int) string {
	return ToBase36Hash(s)[:l]
}

// UniqueName returns prefix followed by a random alphanumeric suffix, usable as an object name.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, ToBase36HashLen(uuid.NewString(), UniqueSuffixLen))
}
