package storage

import "strings"

// Within reports whether the slash-separated path p is dir or lies below
// it. An empty dir is the root of a prefix-keyed namespace and contains
// everything.
func Within(p, dir string) bool {
	if dir == "" || p == dir {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/")
}
