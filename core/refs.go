package core

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ExtractRefs returns the set of blob filenames referenced by items.
// Only src and image fields pointing into the uploads namespace count;
// inline data: payloads own no file and are ignored.
func ExtractRefs(items []Item) map[string]struct{} {
	refs := make(map[string]struct{})
	for _, item := range items {
		for _, ref := range []string{item.Src, item.Image} {
			if name, ok := AssetFilename(ref); ok {
				refs[name] = struct{}{}
			}
		}
	}
	return refs
}

// AssetFilename extracts the blob filename from a reference such as
// "/uploads/photo-01hx.png" or "http://host/uploads/photo-01hx.png?v=2".
func AssetFilename(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(strings.ToLower(ref), "data:") {
		return "", false
	}

	if strings.Contains(ref, "://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", false
		}
		ref = u.EscapedPath()
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}

	var rest string
	switch {
	case strings.HasPrefix(ref, UploadsPrefix):
		rest = strings.TrimPrefix(ref, UploadsPrefix)
	case strings.HasPrefix(ref, strings.TrimPrefix(UploadsPrefix, "/")):
		rest = strings.TrimPrefix(ref, strings.TrimPrefix(UploadsPrefix, "/"))
	default:
		return "", false
	}

	name, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	safe, err := Sanitize(name)
	if err != nil || safe != name {
		return "", false
	}
	return name, true
}

const itemIDPrefix = "item"

// NextItemID returns the next free "itemN" id for a document, one past the
// highest numbered id already present.
func NextItemID(items []Item) string {
	highest := 0
	for _, item := range items {
		n, err := strconv.Atoi(strings.TrimPrefix(item.ID, itemIDPrefix))
		if err != nil || !strings.HasPrefix(item.ID, itemIDPrefix) {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%d", itemIDPrefix, highest+1)
}
