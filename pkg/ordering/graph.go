// Package ordering sorts keyed items under before/after constraints while
// keeping registration order for everything the constraints leave free.
package ordering

import (
	"fmt"
	"strings"
)

// DuplicateError is returned by Add for a key that is already present.
type DuplicateError struct {
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("ordering: key %s already added", e.Key)
}

// CycleError names one cycle found while ordering. The first key is repeated
// at the end of Path.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "ordering: circular constraint: " + strings.Join(e.Path, " -> ")
}

type node[T any] struct {
	item T
	seq  int
}

// Graph holds items by key plus the constraints between them. It is not
// safe for concurrent use.
type Graph[K comparable, T any] struct {
	nodes map[K]*node[T]
	keys  []K
	edges map[K][]K
}

// New returns an empty graph.
func New[K comparable, T any]() *Graph[K, T] {
	return &Graph[K, T]{
		nodes: make(map[K]*node[T]),
		edges: make(map[K][]K),
	}
}

// Add registers item under key. Keys must be unique.
func (g *Graph[K, T]) Add(key K, item T) error {
	if _, ok := g.nodes[key]; ok {
		return &DuplicateError{Key: fmt.Sprint(key)}
	}
	g.nodes[key] = &node[T]{item: item, seq: len(g.keys)}
	g.keys = append(g.keys, key)
	return nil
}

// Before records that key must be ordered ahead of other.
func (g *Graph[K, T]) Before(key, other K) {
	g.edges[key] = append(g.edges[key], other)
}

// After records that key must be ordered behind other.
func (g *Graph[K, T]) After(key, other K) {
	g.edges[other] = append(g.edges[other], key)
}

// Has reports whether key was added.
func (g *Graph[K, T]) Has(key K) bool {
	_, ok := g.nodes[key]
	return ok
}

// Get returns the item added under key.
func (g *Graph[K, T]) Get(key K) (T, bool) {
	n, ok := g.nodes[key]
	if !ok {
		var zero T
		return zero, false
	}
	return n.item, true
}

// Keys returns the added keys in registration order.
func (g *Graph[K, T]) Keys() []K {
	out := make([]K, len(g.keys))
	copy(out, g.keys)
	return out
}

func (g *Graph[K, T]) Len() int { return len(g.keys) }

// Order returns the items sorted so that every constraint between two added
// keys holds. Among the items that are ready at any step the one added first
// wins. Constraints naming unknown keys are skipped.
func (g *Graph[K, T]) Order() ([]T, error) {
	indeg := make(map[K]int, len(g.keys))
	succ := make(map[K][]K, len(g.keys))
	for _, k := range g.keys {
		indeg[k] = 0
	}
	for _, from := range g.keys {
		seen := make(map[K]bool)
		for _, to := range g.edges[from] {
			if to == from {
				return nil, &CycleError{Path: []string{fmt.Sprint(from), fmt.Sprint(from)}}
			}
			if !g.Has(to) || seen[to] {
				continue
			}
			seen[to] = true
			succ[from] = append(succ[from], to)
			indeg[to]++
		}
	}

	// ready holds keys with no remaining predecessors, kept sorted by seq.
	var ready []K
	for _, k := range g.keys {
		if indeg[k] == 0 {
			ready = append(ready, k)
		}
	}

	out := make([]T, 0, len(g.keys))
	for len(ready) > 0 {
		k := ready[0]
		ready = ready[1:]
		out = append(out, g.nodes[k].item)
		for _, next := range succ[k] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = g.insertBySeq(ready, next)
			}
		}
	}

	if len(out) != len(g.keys) {
		return nil, &CycleError{Path: g.findCycle(succ, indeg)}
	}
	return out, nil
}

func (g *Graph[K, T]) insertBySeq(ready []K, k K) []K {
	seq := g.nodes[k].seq
	i := len(ready)
	for i > 0 && g.nodes[ready[i-1]].seq > seq {
		i--
	}
	ready = append(ready, k)
	copy(ready[i+1:], ready[i:])
	ready[i] = k
	return ready
}

// findCycle walks the keys Kahn's pass could not emit. Each of them still has
// a predecessor inside that set, so following successors from the earliest one
// eventually revisits a key.
func (g *Graph[K, T]) findCycle(succ map[K][]K, indeg map[K]int) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[K]int)
	var stack []K
	var cycle []string

	var visit func(k K) bool
	visit = func(k K) bool {
		color[k] = grey
		stack = append(stack, k)
		for _, next := range succ[k] {
			if indeg[next] == 0 {
				continue
			}
			switch color[next] {
			case grey:
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				for _, s := range stack[start:] {
					cycle = append(cycle, fmt.Sprint(s))
				}
				cycle = append(cycle, fmt.Sprint(next))
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[k] = black
		return false
	}

	for _, k := range g.keys {
		if indeg[k] > 0 && color[k] == white {
			if visit(k) {
				return cycle
			}
		}
	}
	return nil
}
