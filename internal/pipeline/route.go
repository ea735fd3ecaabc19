package pipeline

import (
	"strings"
)

const watchPrefix = "#/watch/"

// WatchRoute returns the navigation route for a recording.
func WatchRoute(id string) string {
	return watchPrefix + id
}

// ParseRoute extracts the recording ID from "#/watch/<id>", "/watch/<id>", or
// a bare ID. It reports false for anything else.
func ParseRoute(route string) (string, bool) {
	route = strings.TrimSpace(route)
	var id string
	switch {
	case route == "":
		return "", false
	case strings.HasPrefix(route, watchPrefix):
		id = strings.TrimPrefix(route, watchPrefix)
	case strings.HasPrefix(route, "/watch/"):
		id = strings.TrimPrefix(route, "/watch/")
	case strings.ContainsAny(route, "#/"):
		return "", false
	default:
		id = route
	}
	id = strings.TrimSuffix(id, "/")
	if id == "" || strings.ContainsAny(id, "/#?:\\ ") {
		return "", false
	}
	return id, true
}
