// Package schedules decides which schedules a return needs and the order in
// which they are built: every schedule after the schedules it draws from.
package schedules

import (
	"container/heap"
	"slices"
	"strings"

	"efile/internal/forms"
	dErrors "efile/pkg/domain-errors"
)

// Node declares one schedule and the schedules whose figures it consumes.
type Node struct {
	ID        forms.FormType
	DependsOn []forms.FormType
}

// Graph is a dependency graph in declaration order. Declaration order breaks
// ties between schedules that are ready at the same time.
type Graph []Node

// DefaultGraph is the shipped dependency graph.
func DefaultGraph() Graph {
	return Graph{
		{ID: forms.FormW2},
		{ID: forms.Form1099NEC},
		{ID: forms.Form4562},
		{ID: forms.Form8829},
		{ID: forms.ScheduleC, DependsOn: []forms.FormType{forms.Form4562, forms.Form8829, forms.Form1099NEC}},
		{ID: forms.ScheduleF, DependsOn: []forms.FormType{forms.Form4562}},
		{ID: forms.ScheduleE, DependsOn: []forms.FormType{forms.Form4562}},
		{ID: forms.Form8949},
		{ID: forms.ScheduleD, DependsOn: []forms.FormType{forms.Form8949}},
		{ID: forms.ScheduleB},
		{ID: forms.ScheduleSE, DependsOn: []forms.FormType{forms.ScheduleC, forms.ScheduleF}},
		{ID: forms.ScheduleH},
		{ID: forms.Form2555},
		{ID: forms.Form1116},
		{ID: forms.Form2441},
		{ID: forms.Form8863},
		{ID: forms.Form8962},
		{ID: forms.Form8995, DependsOn: []forms.FormType{forms.ScheduleC, forms.ScheduleF, forms.ScheduleE}},
		{ID: forms.ScheduleA},
		{ID: forms.Schedule8812},
		{ID: forms.Schedule1, DependsOn: []forms.FormType{
			forms.ScheduleC, forms.ScheduleE, forms.ScheduleF, forms.ScheduleSE, forms.Form2555,
		}},
		{ID: forms.Schedule2, DependsOn: []forms.FormType{forms.ScheduleSE, forms.ScheduleH, forms.Form8962}},
		{ID: forms.Schedule3, DependsOn: []forms.FormType{
			forms.Form1116, forms.Form2441, forms.Form8863, forms.Form8962,
		}},
	}
}

// CircularDependencyError reports a cycle in a dependency graph. It indicates a
// configuration bug and is never retried.
type CircularDependencyError struct {
	Cycle []forms.FormType
}

func (e *CircularDependencyError) Error() string {
	names := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		names[i] = string(id)
	}
	return "circular schedule dependency: " + strings.Join(names, " -> ")
}

func (e *CircularDependencyError) DomainCode() dErrors.Code { return dErrors.CodeConfiguration }

// compiled is a graph restricted to a subset of nodes, indexed by declaration
// position. Edges run from a dependency to its dependents.
type compiled struct {
	ids      []forms.FormType
	indeg    []int
	outgoing [][]int
}

func compile(g Graph, include func(forms.FormType) bool) (*compiled, error) {
	index := make(map[forms.FormType]int, len(g))
	c := &compiled{}
	for _, n := range g {
		if !include(n.ID) {
			continue
		}
		if _, dup := index[n.ID]; dup {
			return nil, dErrors.Newf(dErrors.CodeConfiguration, "schedule %s declared twice", n.ID)
		}
		index[n.ID] = len(c.ids)
		c.ids = append(c.ids, n.ID)
	}
	c.indeg = make([]int, len(c.ids))
	c.outgoing = make([][]int, len(c.ids))
	for _, n := range g {
		to, ok := index[n.ID]
		if !ok {
			continue
		}
		for _, dep := range n.DependsOn {
			from, ok := index[dep]
			if !ok {
				continue
			}
			c.outgoing[from] = append(c.outgoing[from], to)
			c.indeg[to]++
		}
	}
	for _, out := range c.outgoing {
		slices.Sort(out)
	}
	return c, nil
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// order runs Kahn's algorithm with a min-heap over declaration indices, so the
// result is independent of how the caller assembled the set.
func (c *compiled) order() ([]forms.FormType, error) {
	indeg := make([]int, len(c.indeg))
	copy(indeg, c.indeg)

	ready := &indexHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]forms.FormType, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, c.ids[n])
		for _, m := range c.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	if len(out) != len(c.ids) {
		return nil, &CircularDependencyError{Cycle: c.cycle()}
	}
	return out, nil
}

// cycle returns one cycle found by a depth-first walk in index order. The
// first and last entries are the same schedule.
func (c *compiled) cycle() []forms.FormType {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(c.ids))
	parent := make([]int, len(c.ids))
	for i := range parent {
		parent[i] = -1
	}

	var found []int
	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		for _, v := range c.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if visit(v) {
					return true
				}
			case gray:
				found = append(found, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					found = append(found, cur)
				}
				found = append(found, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range c.ids {
		if color[i] == white && visit(i) {
			break
		}
	}

	out := make([]forms.FormType, len(found))
	for i, idx := range found {
		out[len(found)-1-i] = c.ids[idx]
	}
	return out
}
