package graph

import (
	"reflect"
	"strconv"
	"strings"
	"testing"
)

type testNode struct {
	name string
	deps []string
	errs []Error
}

func (n *testNode) NodeName() string        { return n.name }
func (n *testNode) NodeDependsOn() []string { return n.deps }
func (n *testNode) Validate() []Error       { return n.errs }

func node(name string, deps ...string) *testNode { return &testNode{name: name, deps: deps} }

func nodes(in ...*testNode) []Node {
	out := make([]Node, len(in))
	for i, n := range in {
		out[i] = n
	}
	return out
}

func codes(errs []Error) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidateAcceptsDAG(t *testing.T) {
	res := Validate(nodes(node("build"), node("test", "build"), node("deploy", "test", "BUILD")), "", nil)
	if !res.OK() {
		t.Fatalf("Validate() errors = %v", res.Errors)
	}
	if res.Names[2] != "deploy" {
		t.Fatalf("Names[2] = %q", res.Names[2])
	}
}

func TestValidateFullCycle(t *testing.T) {
	res := Validate(nodes(node("a", "b"), node("b", "a")), "", nil)
	if got := codes(res.Errors); !reflect.DeepEqual(got, []string{CodeStartingPointNotFound}) {
		t.Fatalf("codes = %v, want only %s", got, CodeStartingPointNotFound)
	}
}

func TestValidatePartialCycle(t *testing.T) {
	res := Validate(nodes(node("root"), node("a", "root", "b"), node("b", "a")), "", nil)
	got := codes(res.Errors)
	want := []string{CodeGraphContainsCycle, CodeGraphContainsCycle}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("codes = %v, want %v", got, want)
	}
	if !strings.Contains(res.Errors[0].Message, "a depends on b") {
		t.Fatalf("message = %q", res.Errors[0].Message)
	}
}

func TestValidateDependencyNotFound(t *testing.T) {
	res := Validate(nodes(node("a"), node("b", "missing")), "jobs", nil)
	if got := codes(res.Errors); !reflect.DeepEqual(got, []string{CodeDependencyNotFound}) {
		t.Fatalf("codes = %v", got)
	}
	if !strings.HasPrefix(res.Errors[0].Message, "jobs: b depends on unknown missing") {
		t.Fatalf("message = %q", res.Errors[0].Message)
	}
}

func TestValidateNames(t *testing.T) {
	res := Validate(nodes(node("a"), node("A"), node("1bad")), "", nil)
	got := codes(res.Errors)
	want := []string{CodeNameNotUnique, CodeNameInvalid}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("codes = %v, want %v", got, want)
	}
}

func TestValidateDefaultNamesAreUnique(t *testing.T) {
	in := nodes(node(""), node("__run"), node(""), node(""))
	res := Validate(in, "", func(_ Node, index int) string {
		if index == 1 {
			return "__run"
		}
		return "__run_" + strconv.Itoa(index)
	})
	if !res.OK() {
		t.Fatalf("Validate() errors = %v", res.Errors)
	}

	want := map[int]string{0: "__run_2", 1: "__run", 2: "__run_3", 3: "__run_4"}
	if !reflect.DeepEqual(res.Names, want) {
		t.Fatalf("Names = %v, want %v", res.Names, want)
	}
	// the nodes keep their empty names
	if in[0].NodeName() != "" {
		t.Fatal("Validate must not rename nodes")
	}
}

func TestValidateRetriesGeneratorIndexes(t *testing.T) {
	res := Validate(nodes(node(""), node(""), node("JOB2")), "", nil)
	if !res.OK() {
		t.Fatalf("Validate() errors = %v", res.Errors)
	}
	want := map[int]string{0: "job1", 1: "job3", 2: "JOB2"}
	if !reflect.DeepEqual(res.Names, want) {
		t.Fatalf("Names = %v, want %v", res.Names, want)
	}

	var calls []int
	res = Validate(nodes(node(""), node("")), "", func(_ Node, index int) string {
		calls = append(calls, index)
		return "job1"
	})
	if !res.OK() {
		t.Fatalf("Validate() errors = %v", res.Errors)
	}
	if strings.EqualFold(res.Names[0], res.Names[1]) {
		t.Fatalf("Names = %v, want distinct names", res.Names)
	}
	if res.Names[0] != "job1" || len(calls) < 3 || calls[1] != 1 || calls[2] != 2 {
		t.Fatalf("Names = %v, generator calls = %v", res.Names, calls)
	}
}

func TestValidateRunsNodeValidation(t *testing.T) {
	bad := node("a")
	bad.errs = []Error{{Code: "StepsRequired", Message: "a has no steps"}}
	res := Validate(nodes(bad), "", nil)
	if got := codes(res.Errors); !reflect.DeepEqual(got, []string{"StepsRequired"}) {
		t.Fatalf("codes = %v", got)
	}
}

func TestTraverse(t *testing.T) {
	var order []string
	deps := map[string][]string{}
	Traverse(nodes(node("deploy", "test"), node("test", "build"), node("build"), node("orphan", "nope")), func(n Node, d []string) {
		order = append(order, n.NodeName())
		deps[n.NodeName()] = d
	})

	if !reflect.DeepEqual(order, []string{"build", "test", "deploy"}) {
		t.Fatalf("order = %v", order)
	}
	if !reflect.DeepEqual(deps["deploy"], []string{"build", "test"}) {
		t.Fatalf("deploy deps = %v", deps["deploy"])
	}
	if len(deps["build"]) != 0 {
		t.Fatalf("build deps = %v", deps["build"])
	}
}
