// Package pathcodec encodes and decodes materialized paths.
//
// A path is the concatenation of every strict ancestor identifier, root first,
// each followed by the separator. Root nodes carry the separator alone.
//
//	"."        root (depth 0)
//	".4."      child of node 4 (depth 1)
//	".4.17."   child of node 17, grandchild of node 4 (depth 2)
package pathcodec

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSeparator is the separator used when none is configured.
const DefaultSeparator = "."

// MalformedPathError is returned when a stored path cannot be decoded.
type MalformedPathError struct {
	Path   string
	Reason string
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("mpath: malformed path %q: %s", e.Path, e.Reason)
}

// Codec encodes paths with a fixed separator.
type Codec struct {
	sep string
}

// New returns a Codec for sep, falling back to DefaultSeparator when sep is empty.
func New(sep string) Codec {
	if sep == "" {
		sep = DefaultSeparator
	}
	return Codec{sep: sep}
}

// Separator returns the configured separator.
func (c Codec) Separator() string {
	if c.sep == "" {
		return DefaultSeparator
	}
	return c.sep
}

// RootPath returns the path carried by root nodes.
func (c Codec) RootPath() string {
	return c.Separator()
}

// ChildPath returns the path of a direct child of the node (parentPath, parentID).
func (c Codec) ChildPath(parentPath string, parentID int64) string {
	sep := c.Separator()
	if parentPath == "" {
		parentPath = sep
	}
	return parentPath + strconv.FormatInt(parentID, 10) + sep
}

// Segment returns the "<sep><id><sep>" fragment that every descendant path of id contains.
func (c Codec) Segment(id int64) string {
	sep := c.Separator()
	return sep + strconv.FormatInt(id, 10) + sep
}

// ParentIDs decodes path into its ancestor identifiers, root first.
// A root path (or an empty one) yields an empty slice.
func (c Codec) ParentIDs(path string) ([]int64, error) {
	if c.IsRootPath(path) {
		return []int64{}, nil
	}
	body, ok := c.body(path)
	if !ok {
		return nil, &MalformedPathError{Path: path, Reason: "missing leading or trailing separator"}
	}

	parts := strings.Split(body, c.Separator())
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, &MalformedPathError{Path: path, Reason: "empty segment"}
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, &MalformedPathError{Path: path, Reason: fmt.Sprintf("segment %q is not an identifier", p)}
		}
		if id <= 0 {
			return nil, &MalformedPathError{Path: path, Reason: fmt.Sprintf("segment %q is not a positive identifier", p)}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// body strips exactly one leading and one trailing separator from path.
func (c Codec) body(path string) (string, bool) {
	sep := c.Separator()
	rest, ok := strings.CutPrefix(path, sep)
	if !ok {
		return path, false
	}
	rest, ok = strings.CutSuffix(rest, sep)
	return rest, ok
}

// ParentID returns the direct parent identifier encoded in path.
// ok is false for root paths.
func (c Codec) ParentID(path string) (id int64, ok bool, err error) {
	ids, err := c.ParentIDs(path)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[len(ids)-1], true, nil
}

// Depth returns the number of ancestors encoded in path.
func (c Codec) Depth(path string) (int, error) {
	ids, err := c.ParentIDs(path)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// IsRootPath reports whether path has no ancestor segments.
func (c Codec) IsRootPath(path string) bool {
	return path == "" || path == c.Separator()
}

// LastSegment returns the raw direct-parent segment of path without decoding it,
// or "" for root paths.
func (c Codec) LastSegment(path string) string {
	if c.IsRootPath(path) {
		return ""
	}
	body, _ := c.body(path)
	if i := strings.LastIndex(body, c.Separator()); i >= 0 {
		return body[i+len(c.Separator()):]
	}
	return body
}

// Validate checks that path decodes and that its depth equals level.
func (c Codec) Validate(path string, level int) error {
	depth, err := c.Depth(path)
	if err != nil {
		return err
	}
	if depth != level {
		return &MalformedPathError{
			Path:   path,
			Reason: fmt.Sprintf("depth %d does not match level %d", depth, level),
		}
	}
	return nil
}
