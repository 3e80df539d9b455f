package persistence

import (
	"fmt"

	"github.com/avovello/stagerun/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

type MetadataStorage interface {
	SaveWorkflowDefinition(def model.WorkflowDefinition) error
	GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error)
	DeleteWorkflowDefinition(name string) error
	SaveCapabilityDefinition(cap model.CapabilityDefinition) error
	GetCapabilityDefinition(name string) (*model.CapabilityDefinition, error)
	DeleteCapabilityDefinition(name string) error
}

type SessionStorage interface {
	SaveSession(session *model.RunSession) error
	GetSession(id string) (*model.RunSession, error)
	DeleteSession(id string) error
}
