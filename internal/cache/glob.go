package cache

import "strings"

// MatchGlob reports whether key matches pattern, where "*" is the only
// wildcard and matches any run of characters (including none). A small
// segment matcher is used rather than path.Match, whose
// filesystem-separator semantics don't apply to cache keys.
func MatchGlob(pattern, key string) bool {
	if pattern == "" {
		return key == ""
	}
	segments := strings.Split(pattern, "*")

	if len(segments) == 1 {
		return pattern == key
	}

	if !strings.HasPrefix(key, segments[0]) {
		return false
	}
	key = key[len(segments[0]):]

	for i := 1; i < len(segments)-1; i++ {
		seg := segments[i]
		if seg == "" {
			continue
		}
		idx := strings.Index(key, seg)
		if idx < 0 {
			return false
		}
		key = key[idx+len(seg):]
	}

	last := segments[len(segments)-1]
	return strings.HasSuffix(key, last)
}

// SubstituteVars replaces "{var}" placeholders in pattern using values,
// used both to build a rule's concrete removal pattern and a cache's
// keyPattern from event/request data.
func SubstituteVars(pattern string, values map[string]string) string {
	var b strings.Builder
	i := 0
	for i < len(pattern) {
		if pattern[i] == '{' {
			if end := strings.IndexByte(pattern[i:], '}'); end >= 0 {
				name := pattern[i+1 : i+end]
				if v, ok := values[name]; ok {
					b.WriteString(v)
					i += end + 1
					continue
				}
			}
		}
		b.WriteByte(pattern[i])
		i++
	}
	return b.String()
}
