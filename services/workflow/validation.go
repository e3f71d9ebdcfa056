package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

func structProblems(v any) ([]string, error) {
	err := validate.Struct(v)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return out, nil
}

// ValidateWorkflow checks the definition before it is stored: struct tags,
// unique node ids, exactly one start node, edges between existing nodes,
// a valid schedule and node configs against their registered schemas.
func ValidateWorkflow(wf *Workflow, registry *Registry) error {
	problems, err := structProblems(wf)
	if err != nil {
		return err
	}

	ids := make(map[string]bool, len(wf.Nodes))
	starts := 0
	for _, n := range wf.Nodes {
		if n.ID != "" && ids[n.ID] {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true
		if n.Type == "start" {
			starts++
		}
		if registry != nil {
			if err := registry.ValidateNode(n); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}
	if len(wf.Nodes) > 0 && starts != 1 {
		problems = append(problems, fmt.Sprintf("workflow must have exactly one start node, found %d", starts))
	}

	for _, e := range wf.Edges {
		if e.Source != "" && !ids[e.Source] {
			problems = append(problems, fmt.Sprintf("edge %s: unknown source %q", e.ID, e.Source))
		}
		if e.Target != "" && !ids[e.Target] {
			problems = append(problems, fmt.Sprintf("edge %s: unknown target %q", e.ID, e.Target))
		}
	}

	if wf.Schedule != "" {
		if err := ValidateSchedule(wf.Schedule); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateExecuteInput checks an execute request.
func ValidateExecuteInput(in ExecuteInput) error {
	problems, err := structProblems(in)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
