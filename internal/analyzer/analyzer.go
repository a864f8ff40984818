// Package analyzer implements DependencyAnalyzer (spec.md §4.1): it converts
// an ordered Step list into an ordered list of levels (sets of step indices
// safe to execute in parallel).
//
// The topological-layering shape (build a graph, Kahn-layer it, execute
// level-by-level with a bounded worker pool) is grounded on
// other_examples' stacklok-toolhive dag_executor.go, which is not a direct
// teacher dependency but establishes golang.org/x/sync/errgroup + a
// semaphore channel as the idiomatic shape for exactly this problem
// throughout the retrieved corpus.
package analyzer

import (
	"fmt"
	"sort"
	"strings"
)

// PlanCycle is returned when the dependency graph contains a cycle
// (spec.md §4.1 step 3).
type PlanCycle struct {
	Remaining []int
}

func (e *PlanCycle) Error() string {
	return fmt.Sprintf("dependency analysis: plan cycle detected among step indices %v", e.Remaining)
}

// Step is the minimal view of an ir.Step the analyzer needs: the resource
// footprint of an operation, without importing the ir package and coupling
// the analyzer to IntentIR's full shape.
type Step struct {
	Tool      string
	// Reads/Writes are identical-resource-key sets for conflict detection
	// (spec.md §4.1's "identical file path argument", "identical package
	// name", "identical service name", "identical container identifier",
	// "identical URL"). Callers derive these from a Step's Args according
	// to the tool's argument conventions.
	Reads  []string
	Writes []string
	// SerializingClass names a tool class that must be fully serialized
	// against itself (spec.md §4.1: "package manager, VCS state"). Empty
	// means no class-wide serialization applies.
	SerializingClass string
}

// serializingClassOf returns the serializing class for a tool, if any.
// Package-manager and VCS tools conservatively serialize against
// themselves regardless of declared resources (spec.md §4.1).
func serializingClassOf(tool string) string {
	switch strings.ToLower(tool) {
	case "pkg", "npm", "pip", "apt", "brew", "cargo", "go-mod":
		return "package-manager"
	case "git":
		return "vcs"
	default:
		return ""
	}
}

// conflicts reports whether steps a and b touch a conflicting resource
// (spec.md §4.1 step 1's three conflict rules) or belong to the same
// serializing tool class.
func conflicts(a, b Step) bool {
	if sharesWithWrite(a.Writes, b.Writes) || sharesWithWrite(a.Writes, b.Reads) || sharesWithWrite(b.Writes, a.Reads) {
		return true
	}
	classA := serializingClassOf(a.Tool)
	if classA != "" && classA == serializingClassOf(b.Tool) {
		return true
	}
	return false
}

func sharesWithWrite(writes, other []string) bool {
	if len(writes) == 0 || len(other) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		set[w] = struct{}{}
	}
	for _, o := range other {
		if _, ok := set[o]; ok {
			return true
		}
	}
	return false
}

// Levels is the output of Analyze: levels[k] holds step indices (into the
// original steps slice) safe to dispatch together.
type Levels [][]int

// SequentialFallback reports whether the estimated speedup factor
// |steps| / len(levels) falls below 1.3, in which case the Planner should
// execute one step per level instead of following these levels (spec.md
// §4.1 "Output guarantees").
func (l Levels) SequentialFallback(stepCount int) bool {
	if len(l) == 0 {
		return false
	}
	speedup := float64(stepCount) / float64(len(l))
	return speedup < 1.3
}

// Analyze runs spec.md §4.1's algorithm: build conflict edges, then
// Kahn-layer the resulting DAG. Ties within a level are broken by original
// index only for deterministic logging; dispatch order is the Planner's
// concern.
func Analyze(steps []Step) (Levels, error) {
	n := len(steps)
	if n == 0 {
		return nil, nil
	}

	// edges[i] = set of j such that i -> j (i must complete before j).
	edges := make([][]int, n)
	indegree := make([]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if conflicts(steps[i], steps[j]) {
				edges[i] = append(edges[i], j)
				indegree[j]++
			}
		}
	}

	remaining := n
	done := make([]bool, n)
	var levels Levels

	for remaining > 0 {
		var level []int
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				level = append(level, i)
			}
		}
		if len(level) == 0 {
			// Every remaining node has a predecessor still pending: a cycle.
			var rem []int
			for i := 0; i < n; i++ {
				if !done[i] {
					rem = append(rem, i)
				}
			}
			return nil, &PlanCycle{Remaining: rem}
		}

		sort.Ints(level)
		levels = append(levels, level)
		for _, i := range level {
			done[i] = true
			remaining--
			for _, j := range edges[i] {
				indegree[j]--
			}
		}
	}

	return levels, nil
}
