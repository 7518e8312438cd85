// Package graph validates and walks dependency graphs of named nodes such as
// the jobs of a workflow.
package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MaxNameLength bounds node names.
const MaxNameLength = 100

// Error codes.
const (
	CodeNameInvalid           = "NameInvalid"
	CodeNameNotUnique         = "NameNotUnique"
	CodeStartingPointNotFound = "StartingPointNotFound"
	CodeDependencyNotFound    = "DependencyNotFound"
	CodeGraphContainsCycle    = "GraphContainsCycle"
)

// Node is a vertex identified by name. An empty name asks the validator to
// assign a default one.
type Node interface {
	NodeName() string
	NodeDependsOn() []string
	// Validate reports problems local to the node.
	Validate() []Error
}

// Error is a graph validation error with a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e Error) Error() string { return e.Code + ": " + e.Message }

// Result is the outcome of Validate. Names maps each node index to its
// resolved name, including defaults assigned to unnamed nodes.
type Result struct {
	Errors []Error
	Names  map[int]string
}

// OK reports whether validation found no errors.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// DefaultNameFunc proposes a name for an unnamed node. Validate calls it
// with index 1, 2, ... until the candidate is not taken.
type DefaultNameFunc func(n Node, index int) string

// IndexedName is the default generator: job1, job2, ...
func IndexedName(_ Node, index int) string {
	return "job" + strconv.Itoa(index)
}

var hyphenNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// IsValidName reports whether name follows the reference-name grammar: a
// letter or '_' followed by letters, digits, '_' or '-'.
func IsValidName(name string) bool {
	return name != "" && len(name) <= MaxNameLength && hyphenNamePattern.MatchString(name)
}

// Validate checks node names, dependencies and reachability. graphName, when
// set, prefixes messages. Nodes are never mutated.
func Validate(nodes []Node, graphName string, defaultName DefaultNameFunc) Result {
	res := Result{Names: make(map[int]string, len(nodes))}
	addf := func(code, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if graphName != "" {
			msg = graphName + ": " + msg
		}
		res.Errors = append(res.Errors, Error{Code: code, Message: msg})
	}

	// Partition into named and unnamed, find the starting nodes.
	taken := make(map[string]int)
	var unnamed []int
	hasStart := false
	duplicates := false
	for i, n := range nodes {
		if len(n.NodeDependsOn()) == 0 {
			hasStart = true
		}
		name := n.NodeName()
		if name == "" {
			unnamed = append(unnamed, i)
			continue
		}
		res.Names[i] = name
		if !IsValidName(name) {
			addf(CodeNameInvalid, "The name %s is invalid. Names must start with a letter or '_' and contain only alphanumeric characters, '-', or '_'", name)
		}
		key := strings.ToLower(name)
		if _, dup := taken[key]; dup {
			addf(CodeNameNotUnique, "The name %s appears more than once. Names must be unique.", name)
			duplicates = true
			continue
		}
		taken[key] = i
	}

	// Default names never collide with explicit ones or each other.
	if defaultName == nil {
		defaultName = IndexedName
	}
	for _, i := range unnamed {
		var name string
		for index := 1; ; index++ {
			name = defaultName(nodes[i], index)
			// a generator that keeps repeating itself is suffixed
			if index > len(nodes)+len(taken) {
				name += "_" + strconv.Itoa(index)
			}
			if _, dup := taken[strings.ToLower(name)]; name != "" && !dup {
				break
			}
		}
		taken[strings.ToLower(name)] = i
		res.Names[i] = name
	}

	for _, n := range nodes {
		for _, e := range n.Validate() {
			if graphName != "" {
				e.Message = graphName + ": " + e.Message
			}
			res.Errors = append(res.Errors, e)
		}
	}

	if len(nodes) > 0 && !hasStart {
		addf(CodeStartingPointNotFound, "The graph must contain at least one node with no dependencies.")
		return res
	}
	if duplicates {
		return res
	}

	for _, u := range unresolved(nodes, res.Names) {
		if _, known := taken[strings.ToLower(u.dependency)]; !known {
			addf(CodeDependencyNotFound, "%s depends on unknown %s.", u.node, u.dependency)
			continue
		}
		addf(CodeGraphContainsCycle, "%s depends on %s, which creates a cycle in the dependency graph.", u.node, u.dependency)
	}
	return res
}

type pendingDependency struct {
	node       string
	dependency string
}

// unresolved runs the breadth-first resolution and returns every dependency
// left unsatisfied, in node order.
func unresolved(nodes []Node, names map[int]string) []pendingDependency {
	_, pending := resolve(nodes, names)

	var out []pendingDependency
	for i := range nodes {
		for _, dep := range pending[i] {
			out = append(out, pendingDependency{node: names[i], dependency: dep})
		}
	}
	return out
}

// resolve is the shared breadth-first pass. It returns the node indexes in
// the order they became ready and, for nodes that never did, the names of
// their unsatisfied dependencies.
func resolve(nodes []Node, names map[int]string) ([]int, map[int][]string) {
	pending := make(map[int][]string, len(nodes))
	waiting := make(map[string][]int)
	var ready []int
	for i, n := range nodes {
		deps := uniqueFold(n.NodeDependsOn())
		if len(deps) == 0 {
			ready = append(ready, i)
			continue
		}
		pending[i] = deps
		for _, d := range deps {
			key := strings.ToLower(d)
			waiting[key] = append(waiting[key], i)
		}
	}

	var order []int
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, i)

		key := strings.ToLower(names[i])
		for _, j := range waiting[key] {
			pending[j] = removeFold(pending[j], names[i])
			if len(pending[j]) == 0 {
				delete(pending, j)
				ready = append(ready, j)
			}
		}
		delete(waiting, key)
	}
	return order, pending
}

// Traverse visits nodes in dependency order. onNode receives each node with
// the sorted set of names it depends on, directly or transitively. Nodes
// that can never be reached are not visited.
func Traverse(nodes []Node, onNode func(n Node, dependencies []string)) {
	names := make(map[int]string, len(nodes))
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		names[i] = n.NodeName()
		index[strings.ToLower(n.NodeName())] = i
	}

	order, _ := resolve(nodes, names)
	closure := make(map[int]map[string]struct{}, len(order))
	for _, i := range order {
		set := make(map[string]struct{})
		for _, d := range nodes[i].NodeDependsOn() {
			j, ok := index[strings.ToLower(d)]
			if !ok {
				continue
			}
			set[names[j]] = struct{}{}
			for name := range closure[j] {
				set[name] = struct{}{}
			}
		}
		closure[i] = set

		deps := make([]string, 0, len(set))
		for name := range set {
			deps = append(deps, name)
		}
		sort.Strings(deps)
		onNode(nodes[i], deps)
	}
}

func uniqueFold(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

func removeFold(in []string, name string) []string {
	out := in[:0]
	for _, s := range in {
		if !strings.EqualFold(s, name) {
			out = append(out, s)
		}
	}
	return out
}
