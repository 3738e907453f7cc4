package process

import "sort"

// Node is one process tree node: its metadata plus its direct children.
type Node struct {
	Metadata
	Children []*Node
}

// BuildTree computes the process forest keyed by parent_pid (spec
// §4.5). Cycle tolerance is defensive: a visited set scoped to the
// *current descent path* (not global) means the walk never loops on a
// genuine cycle; the node that closes a cycle is emitted once more as a
// childless leaf (spec §9 "Cycle-tolerant tree walk"). A PID whose parent
// is <= 4 and present in procs appears both as a forest root and as that
// parent's child.
//
// If root is non-nil and present in procs, the result is that single PID
// as a one-element slice. Otherwise the forest consists of every PID
// whose parent is unknown (not present in procs) or <= 4, sorted by PID
// ascending.
func BuildTree(procs map[int]Metadata, root *int) []*Node {
	childrenOf := make(map[int][]int)
	for pid, md := range procs {
		childrenOf[md.ParentPID] = append(childrenOf[md.ParentPID], pid)
	}
	for _, kids := range childrenOf {
		sort.Ints(kids)
	}

	var build func(pid int, onPath map[int]bool) *Node
	build = func(pid int, onPath map[int]bool) *Node {
		md, ok := procs[pid]
		if !ok {
			md = Metadata{PID: pid}
		}
		n := &Node{Metadata: md}
		if onPath[pid] {
			return n // cycle: stop descending further down this path.
		}
		onPath[pid] = true
		for _, childPID := range childrenOf[pid] {
			n.Children = append(n.Children, build(childPID, onPath))
		}
		delete(onPath, pid)
		return n
	}

	if root != nil {
		if _, ok := procs[*root]; ok {
			return []*Node{build(*root, map[int]bool{})}
		}
		return nil
	}

	var rootPIDs []int
	for pid, md := range procs {
		if _, parentKnown := procs[md.ParentPID]; !parentKnown || md.ParentPID <= 4 {
			rootPIDs = append(rootPIDs, pid)
		}
	}
	sort.Ints(rootPIDs)

	forest := make([]*Node, 0, len(rootPIDs))
	for _, pid := range rootPIDs {
		forest = append(forest, build(pid, map[int]bool{}))
	}
	return forest
}
