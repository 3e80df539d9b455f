package model

import "fmt"

// DefinitionError marks a malformed workflow definition. Detected at save or
// load time, before any task is invoked.
type DefinitionError struct {
	Workflow string
	Reason   string
}

func (e DefinitionError) Error() string {
	return fmt.Sprintf("invalid workflow %s: %s", e.Workflow, e.Reason)
}
