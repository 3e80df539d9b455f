package model

import "time"

type TaskStatus string

const TASK_SUCCESS TaskStatus = "SUCCESS"
const TASK_FAILED TaskStatus = "FAILED"
const TASK_TIMEOUT TaskStatus = "TIMEOUT"

// TaskInvocation is one concrete call to a capability. It is created by the
// loop controller or the fan-out dispatcher right before dispatch and owned by
// that component until a TaskResult exists for it.
type TaskInvocation struct {
	Id         string         `json:"id"`
	Capability string         `json:"capability"`
	Input      map[string]any `json:"input"`
	Attempt    int            `json:"attempt"`
	Deadline   time.Time      `json:"deadline"`
}

type TaskResult struct {
	InvocationId string         `json:"invocationId"`
	Capability   string         `json:"capability"`
	Status       TaskStatus     `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	Diagnostics  string         `json:"diagnostics,omitempty"`
}

func (r TaskResult) Success() bool {
	return r.Status == TASK_SUCCESS
}
