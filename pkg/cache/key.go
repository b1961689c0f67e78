package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key builds a deterministic, namespaced cache key.
type Key struct {
	// Namespace separates components sharing a store (e.g. "drive-content")
	Namespace string

	// Parts are appended in order (e.g. drive and item ids)
	Parts []string

	// Params are appended sorted by name
	Params url.Values
}

// String generates the key.
// Format: m365:namespace:part1:part2:param1=val1
//
// Example:
//
//	m365:drive-content:b!abc:01XYZ:version=2
func (k Key) String() string {
	parts := []string{"m365"}

	if ns := strings.Trim(k.Namespace, ":"); ns != "" {
		parts = append(parts, ns)
	}

	for _, p := range k.Parts {
		if p = strings.Trim(p, "/"); p != "" {
			parts = append(parts, p)
		}
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Params[name], ",")))
		}
	}

	return strings.Join(parts, ":")
}
