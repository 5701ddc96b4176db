package storage

import (
	"context"
	"fmt"
)

// SuccessorFunc returns the targets of acyclic-type edges leaving id.
type SuccessorFunc func(ctx context.Context, id string) ([]string, error)

// Reaches reports whether target is reachable from start by following next.
// It is an iterative depth-first search that visits at most bound nodes; a
// search that would exceed the bound reports ErrInvalidInput since a graph
// over bound live assets cannot legitimately have more distinct nodes.
//
// Backends call Reaches(to, from) before inserting the edge from -> to: if
// from is already reachable from to, the new edge would close a cycle.
func Reaches(ctx context.Context, start, target string, bound int, next SuccessorFunc) (bool, error) {
	if start == target {
		return true, nil
	}

	visited := map[string]bool{start: true}
	stack := []string{start}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		succ, err := next(ctx, node)
		if err != nil {
			return false, err
		}

		for _, s := range succ {
			if s == target {
				return true, nil
			}
			if visited[s] {
				continue
			}
			visited[s] = true
			if bound > 0 && len(visited) > bound {
				return false, fmt.Errorf("%w: cycle check exceeded %d nodes", ErrInvalidInput, bound)
			}
			stack = append(stack, s)
		}
	}

	return false, nil
}
