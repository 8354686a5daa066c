package orchestration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orbitalworks/waveflow/core"
)

// stepState tracks where a step is in its lifecycle during one execution
type stepState int

const (
	stepPending stepState = iota
	stepRunning
	stepCompleted
	stepFailed
	// stepUnreachable marks steps downstream of a failure; they are never
	// scheduled
	stepUnreachable
)

// dependencyGraph is the per-execution view of a workflow's step
// dependencies. It is owned by a single engine control loop and needs no
// locking: the loop is the only mutator, and waves are joined before the
// next ready set is computed.
type dependencyGraph struct {
	nodes map[string]*graphNode
}

type graphNode struct {
	id           string
	dependencies []string
	dependents   []string
	state        stepState
}

// newDependencyGraph builds the graph from a workflow's steps
func newDependencyGraph(steps []StepDefinition) *dependencyGraph {
	g := &dependencyGraph{
		nodes: make(map[string]*graphNode, len(steps)),
	}

	for _, step := range steps {
		g.nodes[step.ID] = &graphNode{
			id:           step.ID,
			dependencies: append([]string(nil), step.DependsOn...),
			state:        stepPending,
		}
	}

	for id, node := range g.nodes {
		for _, dep := range node.dependencies {
			if depNode, exists := g.nodes[dep]; exists {
				depNode.dependents = append(depNode.dependents, id)
			}
		}
	}

	return g
}

// validate checks for dangling dependency references and cycles
func (g *dependencyGraph) validate() error {
	for id, node := range g.nodes {
		for _, dep := range node.dependencies {
			if _, exists := g.nodes[dep]; !exists {
				return fmt.Errorf("step %q depends on unknown step %q: %w",
					id, dep, core.ErrDanglingDependency)
			}
		}
	}

	if cyclic := g.cyclicNodes(); len(cyclic) > 0 {
		return fmt.Errorf("cycle involving steps %s: %w",
			strings.Join(cyclic, ", "), core.ErrCyclicDependency)
	}
	return nil
}

// cyclicNodes returns the ids of every step that participates in or depends
// on a cycle, sorted for stable error messages. It runs Kahn's algorithm;
// whatever cannot be topologically ordered is stuck on a cycle.
func (g *dependencyGraph) cyclicNodes() []string {
	inDegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		inDegree[id] = len(node.dependencies)
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	ordered := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ordered++

		for _, dependent := range g.nodes[current].dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if ordered == len(g.nodes) {
		return nil
	}

	var cyclic []string
	for id, degree := range inDegree {
		if degree > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}

// readyNodes returns pending steps whose every dependency has completed
func (g *dependencyGraph) readyNodes() []string {
	var ready []string
	for id, node := range g.nodes {
		if node.state != stepPending {
			continue
		}
		if g.allDependenciesCompleted(node) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *dependencyGraph) allDependenciesCompleted(node *graphNode) bool {
	for _, dep := range node.dependencies {
		if depNode := g.nodes[dep]; depNode == nil || depNode.state != stepCompleted {
			return false
		}
	}
	return true
}

func (g *dependencyGraph) markRunning(id string) {
	if node, exists := g.nodes[id]; exists {
		node.state = stepRunning
	}
}

func (g *dependencyGraph) markCompleted(id string) {
	if node, exists := g.nodes[id]; exists {
		node.state = stepCompleted
	}
}

// markFailed records a failure and marks every transitive dependent
// unreachable, so they are never scheduled
func (g *dependencyGraph) markFailed(id string) {
	node, exists := g.nodes[id]
	if !exists {
		return
	}
	node.state = stepFailed
	g.markDependentsUnreachable(node)
}

func (g *dependencyGraph) markDependentsUnreachable(node *graphNode) {
	for _, dependent := range node.dependents {
		depNode := g.nodes[dependent]
		if depNode == nil || depNode.state != stepPending {
			continue
		}
		depNode.state = stepUnreachable
		g.markDependentsUnreachable(depNode)
	}
}

// isComplete reports whether every step is terminal
func (g *dependencyGraph) isComplete() bool {
	for _, node := range g.nodes {
		if node.state == stepPending || node.state == stepRunning {
			return false
		}
	}
	return true
}

// pendingNodes returns non-terminal step ids, sorted. When the ready set is
// empty and the graph is not complete, these are the steps stuck on a cycle.
func (g *dependencyGraph) pendingNodes() []string {
	var pending []string
	for id, node := range g.nodes {
		if node.state == stepPending || node.state == stepRunning {
			pending = append(pending, id)
		}
	}
	sort.Strings(pending)
	return pending
}

// unreachableNodes returns step ids skipped due to a failed ancestor, sorted
func (g *dependencyGraph) unreachableNodes() []string {
	var unreachable []string
	for id, node := range g.nodes {
		if node.state == stepUnreachable {
			unreachable = append(unreachable, id)
		}
	}
	sort.Strings(unreachable)
	return unreachable
}
