package mpath

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Delimiter joins path segments in the stored representation. It is reserved:
// segment values must never contain it, and no escaping is performed.
const Delimiter = "."

// Path is an immutable ordered sequence of segments, one per ancestor from
// the root down to the node itself. The zero Path means "not assigned yet".
//
// Path doubles as the GORM column type for the path column: it scans and
// values as the delimited string and migrates to ltree on postgres, text on
// sqlite.
type Path struct {
	segments []string
}

// NewPath builds a single-segment root path.
func NewPath(source string) (Path, error) {
	seg, err := cleanSegment("mpath.NewPath", source)
	if err != nil {
		return Path{}, err
	}
	return Path{segments: []string{seg}}, nil
}

// Child returns p extended by one segment.
func (p Path) Child(source string) (Path, error) {
	seg, err := cleanSegment("mpath.Path.Child", source)
	if err != nil {
		return Path{}, err
	}
	segs := make([]string, 0, len(p.segments)+1)
	segs = append(segs, p.segments...)
	segs = append(segs, seg)
	return Path{segments: segs}, nil
}

// ParsePath parses a stored representation. The empty string parses to the
// zero Path; empty segments ("a..b") are rejected.
func ParsePath(raw string) (Path, error) {
	if raw == "" {
		return Path{}, nil
	}
	parts := strings.Split(raw, Delimiter)
	segs := make([]string, 0, len(parts))
	for _, part := range parts {
		seg, err := cleanSegment("mpath.ParsePath", part)
		if err != nil {
			return Path{}, err
		}
		segs = append(segs, seg)
	}
	return Path{segments: segs}, nil
}

func cleanSegment(op, source string) (string, error) {
	if source == "" {
		return "", NewError(CodeInvalidSegment, op, "empty path segment", nil)
	}
	if strings.Contains(source, Delimiter) {
		return "", NewError(CodeInvalidSegment, op, fmt.Sprintf("segment %q contains the reserved delimiter %q", source, Delimiter), nil)
	}
	return source, nil
}

// IsZero reports whether no path has been assigned.
func (p Path) IsZero() bool { return len(p.segments) == 0 }

// Depth is the segment count; roots have depth 1.
func (p Path) Depth() int { return len(p.segments) }

// Segments returns the ordered segments as a copy.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Contains reports whether source equals one of the segments. Ancestor tests
// build on this: an ancestor's own source always appears in the descendant's
// path.
func (p Path) Contains(source string) bool {
	for _, s := range p.segments {
		if s == source {
			return true
		}
	}
	return false
}

// Leaf returns the node's own segment, "" for the zero Path.
func (p Path) Leaf() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the path one level up; zero for roots and the zero Path.
func (p Path) Parent() Path {
	if len(p.segments) <= 1 {
		return Path{}
	}
	segs := make([]string, len(p.segments)-1)
	copy(segs, p.segments[:len(p.segments)-1])
	return Path{segments: segs}
}

// Ancestors returns every strict prefix of p, root first. Roots return nil.
func (p Path) Ancestors() []Path {
	if len(p.segments) <= 1 {
		return nil
	}
	out := make([]Path, 0, len(p.segments)-1)
	for i := 1; i < len(p.segments); i++ {
		segs := make([]string, i)
		copy(segs, p.segments[:i])
		out = append(out, Path{segments: segs})
	}
	return out
}

// HasPrefix reports whether p equals prefix or extends it (self-or-descendant
// in path terms). The zero prefix matches nothing.
func (p Path) HasPrefix(prefix Path) bool {
	if prefix.IsZero() || len(p.segments) < len(prefix.segments) {
		return false
	}
	for i, s := range prefix.segments {
		if p.segments[i] != s {
			return false
		}
	}
	return true
}

// Equal reports segment-wise equality.
func (p Path) Equal(o Path) bool {
	if len(p.segments) != len(o.segments) {
		return false
	}
	for i, s := range p.segments {
		if o.segments[i] != s {
			return false
		}
	}
	return true
}

// String returns the stored representation: segments joined by Delimiter.
func (p Path) String() string {
	return strings.Join(p.segments, Delimiter)
}

// Value implements driver.Valuer.
func (p Path) Value() (driver.Value, error) {
	return p.String(), nil
}

// Scan implements sql.Scanner.
func (p *Path) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = Path{}
		return nil
	case string:
		parsed, err := ParsePath(v)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	case []byte:
		parsed, err := ParsePath(string(v))
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}
	return NewError(CodeInternal, "mpath.Path.Scan", fmt.Sprintf("cannot scan %T into Path", src), nil)
}

// GormDataType implements schema.GormDataTypeInterface.
func (Path) GormDataType() string { return "string" }

// GormDBDataType picks the column type per dialect: the native hierarchical
// label type on postgres, plain text on sqlite.
func (Path) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "ltree"
	default:
		return "text"
	}
}

// MarshalJSON encodes the path as its delimited string.
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a delimited string.
func (p *Path) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePath(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
