package types

import "path"

// matchAny reports whether candidate matches any glob pattern in patterns,
// using path.Match. A malformed pattern never matches (fails closed).
func matchAny(patterns []string, candidate string) bool {
	for _, p := range patterns {
		ok, err := path.Match(p, candidate)
		if err == nil && ok {
			return true
		}
	}
	return false
}
