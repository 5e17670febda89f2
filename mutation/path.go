package mutation

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// TempPrefix marks identifiers synthesized locally. The remote API never
// issues identifiers with this prefix.
const TempPrefix = "tmp-"

var ErrInvalidPath = errors.New("invalid resource path")

// TempID returns the temporary identifier for the record a CREATE task
// will produce.
func TempID(taskID string) string {
	return TempPrefix + taskID
}

// IsTempID reports whether id was synthesized by TempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// NormalizePath reduces p to a logical resource path: scheme, host, query
// and fragment are dropped, the result has a leading slash and no trailing
// slash.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.Contains(p, "://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
		}
		p = u.Path
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", fmt.Errorf("%w: %q has no segments", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// JoinPath appends an item identifier to a collection path.
func JoinPath(collection, id string) string {
	return strings.TrimSuffix(collection, "/") + "/" + id
}

// SplitItem splits an item path into its collection and identifier. Paths
// with an even number of segments address items.
func SplitItem(p string) (collection, id string, ok bool) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", "", false
	}
	segs := strings.Split(trimmed, "/")
	if len(segs)%2 != 0 {
		return "", "", false
	}
	return "/" + strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], true
}

// Collection returns the collection p belongs to, or p itself when it
// already names a collection.
func Collection(p string) string {
	if c, _, ok := SplitItem(p); ok {
		return c
	}
	if p == "" {
		return p
	}
	return "/" + strings.Trim(p, "/")
}

// PathContainsTempID reports whether any segment of p is a temporary
// identifier.
func PathContainsTempID(p string) bool {
	for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
		if IsTempID(seg) {
			return true
		}
	}
	return false
}
