package utils

import (
	"strings"
)

// Name is a hostname, possibly with a leading wildcard label.
type Name string

func (n Name) IsWildCarded() bool {
	return strings.HasPrefix(string(n), "*")
}

// SubsetOf tells whether every hostname matched by n is matched by o.
func (n Name) SubsetOf(o Name) bool {
	switch {
	case n.IsWildCarded() && o.IsWildCarded():
		return len(n) >= len(o) && strings.HasSuffix(string(n[1:]), string(o[1:]))
	case n.IsWildCarded():
		return false
	case o.IsWildCarded():
		return strings.HasSuffix(string(n), string(o[1:]))
	default:
		return n == o
	}
}

func (n Name) String() string {
	return string(n)
}
