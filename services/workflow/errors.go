package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found or inactive")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrNoStartNode       = errors.New("workflow has no start node")
	ErrInfiniteLoop      = errors.New("potential infinite loop detected")
)

// NodeNotFoundError is returned when an edge or a routing override points at
// a node id that does not exist in the workflow.
type NodeNotFoundError struct {
	ID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("Node %s not found", e.ID)
}

// UnregisteredTypeError is returned when no executor is registered for a node type.
type UnregisteredTypeError struct {
	Type string
}

func (e *UnregisteredTypeError) Error() string {
	return fmt.Sprintf("no executor registered for node type %q", e.Type)
}

// NodeError carries a failed node's error message verbatim as the run error.
type NodeError struct {
	NodeID  string
	Message string
}

func (e *NodeError) Error() string { return e.Message }

// HTTPStatusError is returned for HTTP responses with a status of 400 or above.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}
