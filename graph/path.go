package graph

import (
	"fmt"
	"strings"
)

// Separator joins path segments in the string form of a Path.
const Separator = "/"

// Path addresses a node by its ancestor chain: the strategy name followed by
// each enclosing subgraph down to the node's leaf name. It wraps an ordered
// segment list rather than a raw separator-joined string so segment
// boundaries survive names that would collide after joining; every segment
// is validated at construction and again when a caller-supplied path is
// parsed during restore.
type Path struct {
	segments []string
}

// NewPath builds a path from validated segments.
func NewPath(segments ...string) (Path, error) {
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return Path{}, err
		}
	}
	out := make([]string, len(segments))
	copy(out, segments)
	return Path{segments: out}, nil
}

// ParsePath parses the string form produced by Path.String, validating every
// segment. Caller-supplied paths (checkpoints) must go through here.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("graph: empty path")
	}
	return NewPath(strings.Split(s, Separator)...)
}

func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("graph: empty path segment")
	}
	if strings.Contains(s, Separator) {
		return fmt.Errorf("graph: path segment %q contains separator", s)
	}
	return nil
}

// Child returns a new path with segment appended. The segment must already
// be a valid node name; Child panics on an invalid segment because node
// names are validated at graph construction.
func (p Path) Child(segment string) Path {
	if err := validateSegment(segment); err != nil {
		panic(err)
	}
	out := make([]string, 0, len(p.segments)+1)
	out = append(out, p.segments...)
	out = append(out, segment)
	return Path{segments: out}
}

// Segments returns a copy of the ordered segment list.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Leaf returns the final segment, or "" for the zero path.
func (p Path) Leaf() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Len returns the number of segments.
func (p Path) Len() int { return len(p.segments) }

// IsZero reports whether the path has no segments.
func (p Path) IsZero() bool { return len(p.segments) == 0 }

// String returns the separator-joined form used as path-index key and in
// checkpoint records.
func (p Path) String() string { return strings.Join(p.segments, Separator) }
