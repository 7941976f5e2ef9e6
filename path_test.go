package mpath

import (
	"encoding/json"
	"testing"
)

func mustPath(t *testing.T, raw string) Path {
	t.Helper()
	p, err := ParsePath(raw)
	if err != nil {
		t.Fatalf("ParsePath(%q): %v", raw, err)
	}
	return p
}

func TestPathBuild(t *testing.T) {
	root, err := NewPath("a")
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}
	if root.IsZero() || root.Depth() != 1 || root.String() != "a" {
		t.Fatalf("root: depth=%d str=%q", root.Depth(), root.String())
	}

	child, err := root.Child("b")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	grand, err := child.Child("c")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	if child.String() != "a.b" || grand.String() != "a.b.c" {
		t.Fatalf("chain: child=%q grand=%q", child.String(), grand.String())
	}

	// extending a path never mutates the value it extends
	other, err := child.Child("x")
	if err != nil {
		t.Fatalf("Child: %v", err)
	}
	if grand.String() != "a.b.c" || other.String() != "a.b.x" || child.String() != "a.b" {
		t.Fatalf("immutability: grand=%q other=%q child=%q", grand.String(), other.String(), child.String())
	}
}

func TestPathInvalidSegments(t *testing.T) {
	base := mustPath(t, "ok")
	for _, seg := range []string{"", "a.b", "."} {
		if _, err := NewPath(seg); !IsCode(err, CodeInvalidSegment) {
			t.Fatalf("NewPath(%q): want invalid segment, got %v", seg, err)
		}
		if _, err := base.Child(seg); !IsCode(err, CodeInvalidSegment) {
			t.Fatalf("Child(%q): want invalid segment, got %v", seg, err)
		}
	}
	for _, raw := range []string{"a..b", ".a", "a.", "."} {
		if _, err := ParsePath(raw); !IsCode(err, CodeInvalidSegment) {
			t.Fatalf("ParsePath(%q): want invalid segment, got %v", raw, err)
		}
	}
}

func TestParsePath(t *testing.T) {
	p := mustPath(t, "a.b.c")
	if p.Depth() != 3 || p.String() != "a.b.c" {
		t.Fatalf("parsed: depth=%d str=%q", p.Depth(), p.String())
	}
	segs := p.Segments()
	if len(segs) != 3 || segs[0] != "a" || segs[1] != "b" || segs[2] != "c" {
		t.Fatalf("segments: %v", segs)
	}
	// Segments hands out a copy
	segs[0] = "zz"
	if p.String() != "a.b.c" {
		t.Fatalf("segment aliasing: %q", p.String())
	}

	zero := mustPath(t, "")
	if !zero.IsZero() || zero.Depth() != 0 || zero.String() != "" {
		t.Fatalf("zero path: depth=%d str=%q", zero.Depth(), zero.String())
	}
}

func TestPathRelations(t *testing.T) {
	p := mustPath(t, "a.b.c")
	if p.Leaf() != "c" {
		t.Fatalf("Leaf: %q", p.Leaf())
	}
	if p.Parent().String() != "a.b" {
		t.Fatalf("Parent: %q", p.Parent().String())
	}
	if !mustPath(t, "a").Parent().IsZero() {
		t.Fatalf("root parent should be zero")
	}

	anc := p.Ancestors()
	if len(anc) != 2 || anc[0].String() != "a" || anc[1].String() != "a.b" {
		t.Fatalf("Ancestors: %v", anc)
	}
	if len(mustPath(t, "a").Ancestors()) != 0 {
		t.Fatalf("root has no ancestors")
	}

	if !p.HasPrefix(mustPath(t, "a.b")) || !p.HasPrefix(p) {
		t.Fatalf("HasPrefix should accept prefixes and self")
	}
	if p.HasPrefix(mustPath(t, "a.c")) || p.HasPrefix(Path{}) {
		t.Fatalf("HasPrefix accepted a non-prefix")
	}
	// segment boundaries, not string prefixes
	if mustPath(t, "a.bx").HasPrefix(mustPath(t, "a.b")) {
		t.Fatalf("a.bx must not extend a.b")
	}

	if !p.Contains("b") || p.Contains("x") {
		t.Fatalf("Contains: b=%v x=%v", p.Contains("b"), p.Contains("x"))
	}
	if !p.Equal(mustPath(t, "a.b.c")) || p.Equal(mustPath(t, "a.b")) {
		t.Fatalf("Equal mismatch")
	}
}

func TestPathSQLRoundTrip(t *testing.T) {
	p := mustPath(t, "a.b")
	v, err := p.Value()
	if err != nil || v != "a.b" {
		t.Fatalf("Value: %v %v", v, err)
	}

	var fromString Path
	if err := fromString.Scan("a.b"); err != nil || !fromString.Equal(p) {
		t.Fatalf("Scan string: %v %v", fromString, err)
	}
	var fromBytes Path
	if err := fromBytes.Scan([]byte("a.b")); err != nil || !fromBytes.Equal(p) {
		t.Fatalf("Scan bytes: %v %v", fromBytes, err)
	}
	var fromNil Path
	if err := fromNil.Scan(nil); err != nil || !fromNil.IsZero() {
		t.Fatalf("Scan nil: %v %v", fromNil, err)
	}
	var bad Path
	if err := bad.Scan(42); !IsCode(err, CodeInternal) {
		t.Fatalf("Scan int: want internal error, got %v", err)
	}
	var invalid Path
	if err := invalid.Scan("a..b"); !IsCode(err, CodeInvalidSegment) {
		t.Fatalf("Scan corrupt: want invalid segment, got %v", err)
	}
}

func TestPathJSON(t *testing.T) {
	raw, err := json.Marshal(mustPath(t, "a.b"))
	if err != nil || string(raw) != `"a.b"` {
		t.Fatalf("Marshal: %s %v", raw, err)
	}
	var p Path
	if err := json.Unmarshal([]byte(`"x.y"`), &p); err != nil || p.String() != "x.y" {
		t.Fatalf("Unmarshal: %v %v", p, err)
	}
	if err := json.Unmarshal([]byte(`"x..y"`), &p); !IsCode(err, CodeInvalidSegment) {
		t.Fatalf("Unmarshal corrupt: want invalid segment, got %v", err)
	}
}
