// Package graph holds the dependency-graph algorithms for one project's
// relationship edges. Everything here is a pure function over the aggregate
// snapshot, so concurrent commands never share mutable graph state.
package graph

import "github.com/Bikxs/Skafu-sub001/internal/domain"

// WouldCreateCycle reports whether inserting source->target closes a cycle,
// i.e. whether target already reaches source through the existing edge set.
// Depth-first reachability, O(V+E); project graphs are tens of nodes.
func WouldCreateCycle(edges []domain.Relationship, source, target string) bool {
	if source == target {
		return true
	}
	adjacency := make(map[string][]string, len(edges))
	for _, edge := range edges {
		adjacency[edge.SourceServiceID] = append(adjacency[edge.SourceServiceID], edge.TargetServiceID)
	}
	visited := make(map[string]bool, len(adjacency))
	stack := []string{target}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == source {
			return true
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		stack = append(stack, adjacency[node]...)
	}
	return false
}

// Dependents returns the IDs of services that depend on serviceID: the
// targets of every edge leaving it. The registry blocks unforced removal
// while this set is non-empty.
func Dependents(edges []domain.Relationship, serviceID string) []string {
	var dependents []string
	seen := make(map[string]bool)
	for _, edge := range edges {
		if edge.SourceServiceID == serviceID && !seen[edge.TargetServiceID] {
			seen[edge.TargetServiceID] = true
			dependents = append(dependents, edge.TargetServiceID)
		}
	}
	return dependents
}

// EdgesTouching returns every edge with serviceID as either endpoint. Used
// by forced removal to cascade edge deletion.
func EdgesTouching(edges []domain.Relationship, serviceID string) []domain.Relationship {
	var touching []domain.Relationship
	for _, edge := range edges {
		if edge.SourceServiceID == serviceID || edge.TargetServiceID == serviceID {
			touching = append(touching, edge)
		}
	}
	return touching
}

// Without filters out every edge touching serviceID, returning the surviving
// edge set.
func Without(edges []domain.Relationship, serviceID string) []domain.Relationship {
	survivors := make([]domain.Relationship, 0, len(edges))
	for _, edge := range edges {
		if edge.SourceServiceID != serviceID && edge.TargetServiceID != serviceID {
			survivors = append(survivors, edge)
		}
	}
	return survivors
}

// HasEdge reports whether an identical directed edge already exists.
func HasEdge(edges []domain.Relationship, source, target string) bool {
	for _, edge := range edges {
		if edge.SourceServiceID == source && edge.TargetServiceID == target {
			return true
		}
	}
	return false
}
