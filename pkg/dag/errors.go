package dag

import (
	"fmt"
	"strings"
)

// EmptyNodeIDError indicates a node with an empty id.
type EmptyNodeIDError struct{}

func (e *EmptyNodeIDError) Error() string {
	return "node id cannot be empty"
}

// DuplicateNodeError indicates two nodes sharing one id.
type DuplicateNodeError struct {
	ID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node id: %s", e.ID)
}

// SelfDependencyError indicates a node depending on itself.
type SelfDependencyError struct {
	ID string
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("node %q cannot depend on itself", e.ID)
}

// UnknownDependencyError indicates a dependency on a node that does not
// exist in the graph.
type UnknownDependencyError struct {
	ID        string
	DependsOn string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("node %q depends on unknown node %q", e.ID, e.DependsOn)
}

// DuplicateDependencyError indicates the same dependency declared twice.
type DuplicateDependencyError struct {
	ID        string
	DependsOn string
}

func (e *DuplicateDependencyError) Error() string {
	return fmt.Sprintf("node %q has duplicate dependency %q", e.ID, e.DependsOn)
}

// CyclicDependencyError indicates the dependency relation is not a DAG.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Path) == 0 {
		return "dependency graph contains a cycle"
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}
