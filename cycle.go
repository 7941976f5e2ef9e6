package mpath

import "fmt"

// checkCycle rejects a reparent that would place a node beneath itself or one
// of its own descendants: the candidate parent's path containing the node's
// source segment is exactly that condition. parentPath must be the parent's
// currently persisted path, read before any rewrite touches it. Moves to root
// never reach here; a node without a parent cannot form a cycle.
func checkCycle(op, source string, parentPath Path) error {
	if parentPath.Contains(source) {
		return NewError(CodeCircularReference, op,
			fmt.Sprintf("moving %q under %q would make it its own ancestor", source, parentPath.Leaf()),
			&CircularRefError{Node: source, Parent: parentPath.Leaf()})
	}
	return nil
}
