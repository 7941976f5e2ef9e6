package mpath

import (
	"errors"
	"testing"
)

func TestCheckCycle(t *testing.T) {
	tests := []struct {
		name   string
		source string
		parent string
		cycle  bool
	}{
		{"unrelated parent", "b", "x.y", false},
		{"own ancestor chain", "a", "a.b.c", true},
		{"self parent", "a", "a", true},
		{"descendant of candidate", "c", "a.b", false},
		{"source matches a middle segment", "b", "a.b.c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkCycle("mpath.test", tt.source, mustPath(t, tt.parent))
			if !tt.cycle {
				if err != nil {
					t.Fatalf("checkCycle(%q, %q): unexpected error %v", tt.source, tt.parent, err)
				}
				return
			}
			if !IsCode(err, CodeCircularReference) {
				t.Fatalf("checkCycle(%q, %q): want circular_reference, got %v", tt.source, tt.parent, err)
			}
			var cre *CircularRefError
			if !errors.As(err, &cre) {
				t.Fatalf("checkCycle(%q, %q): no CircularRefError in chain", tt.source, tt.parent)
			}
			if cre.Node != tt.source {
				t.Fatalf("CircularRefError.Node = %q, want %q", cre.Node, tt.source)
			}
			if want := mustPath(t, tt.parent).Leaf(); cre.Parent != want {
				t.Fatalf("CircularRefError.Parent = %q, want %q", cre.Parent, want)
			}
		})
	}
}
