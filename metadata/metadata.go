package metadata

import (
	"fmt"
	"time"

	"github.com/avovello/stagerun/model"
	"github.com/avovello/stagerun/persistence"
	c "github.com/patrickmn/go-cache"
)

// MetadataService is the definition source of the engine. Definitions are
// validated on save so a malformed workflow never reaches execution.
type MetadataService interface {
	SaveWorkflowDefinition(def model.WorkflowDefinition) error
	GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error)
	DeleteWorkflowDefinition(name string) error
	SaveCapabilityDefinition(cap model.CapabilityDefinition) error
	GetCapabilityDefinition(name string) (*model.CapabilityDefinition, error)
	DeleteCapabilityDefinition(name string) error
	ValidateWorkflow(def model.WorkflowDefinition) error
}

type metadataService struct {
	storage persistence.MetadataStorage
	cache   *c.Cache
}

func NewMetadataService(storage persistence.MetadataStorage) MetadataService {
	return &metadataService{
		storage: storage,
		cache:   c.New(c.NoExpiration, 10*time.Minute),
	}
}

func workflowCacheKey(name string) string {
	return "wf:" + name
}

func (s *metadataService) SaveWorkflowDefinition(def model.WorkflowDefinition) error {
	if err := s.ValidateWorkflow(def); err != nil {
		return err
	}
	if err := s.checkCapabilitiesRegistered(def); err != nil {
		return err
	}
	if err := s.storage.SaveWorkflowDefinition(def); err != nil {
		return err
	}
	s.cache.Delete(workflowCacheKey(def.Name))
	return nil
}

func (s *metadataService) GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error) {
	if cached, found := s.cache.Get(workflowCacheKey(name)); found {
		def := cached.(model.WorkflowDefinition)
		return &def, nil
	}
	def, err := s.storage.GetWorkflowDefinition(name)
	if err != nil {
		return nil, err
	}
	s.cache.Set(workflowCacheKey(name), *def, c.NoExpiration)
	return def, nil
}

func (s *metadataService) DeleteWorkflowDefinition(name string) error {
	s.cache.Delete(workflowCacheKey(name))
	return s.storage.DeleteWorkflowDefinition(name)
}

func (s *metadataService) SaveCapabilityDefinition(cap model.CapabilityDefinition) error {
	if cap.Name == "" {
		return fmt.Errorf("capability name can not be empty")
	}
	switch cap.Type {
	case model.CAPABILITY_TYPE_SCRIPT:
		if cap.Expression == "" {
			return fmt.Errorf("capability %s: script expression can not be empty", cap.Name)
		}
	case model.CAPABILITY_TYPE_JSONMAP:
		if len(cap.Parameters) == 0 {
			return fmt.Errorf("capability %s: jsonmap parameters can not be empty", cap.Name)
		}
	default:
		return fmt.Errorf("capability %s: unknown type %s", cap.Name, cap.Type)
	}
	return s.storage.SaveCapabilityDefinition(cap)
}

func (s *metadataService) GetCapabilityDefinition(name string) (*model.CapabilityDefinition, error) {
	return s.storage.GetCapabilityDefinition(name)
}

func (s *metadataService) DeleteCapabilityDefinition(name string) error {
	return s.storage.DeleteCapabilityDefinition(name)
}

func (s *metadataService) ValidateWorkflow(def model.WorkflowDefinition) error {
	if def.Name == "" {
		return model.DefinitionError{Workflow: def.Name, Reason: "workflow name can not be empty"}
	}
	if len(def.Phases) == 0 {
		return model.DefinitionError{Workflow: def.Name, Reason: "workflow has no phases"}
	}
	seen := make(map[string]bool)
	for i, phase := range def.Phases {
		if phase.Id == "" {
			return model.DefinitionError{Workflow: def.Name, Reason: fmt.Sprintf("phase %d has no id", i)}
		}
		if seen[phase.Id] {
			return model.DefinitionError{Workflow: def.Name, Reason: fmt.Sprintf("phase id %s is duplicate", phase.Id)}
		}
		seen[phase.Id] = true
		if err := s.validatePhase(def, i, phase); err != nil {
			return err
		}
	}
	return nil
}

func (s *metadataService) validatePhase(def model.WorkflowDefinition, index int, phase model.PhaseSpec) error {
	fail := func(reason string) error {
		return model.DefinitionError{Workflow: def.Name, Reason: fmt.Sprintf("phase %s: %s", phase.Id, reason)}
	}
	switch phase.Kind {
	case model.PHASE_KIND_SINGLE:
		if len(phase.Capabilities) != 1 {
			return fail("single phase requires exactly one capability")
		}
	case model.PHASE_KIND_FANOUT:
		if len(phase.Capabilities) < 1 {
			return fail("fan-out phase requires at least one capability")
		}
	case model.PHASE_KIND_LOOP:
		if phase.Loop == nil {
			return fail("loop phase requires loop config")
		}
		if phase.Loop.MaxIterations < 1 {
			return fail("loop maxIterations must be at least 1")
		}
		if phase.Loop.ExitCapability == "" {
			return fail("loop requires an exit capability")
		}
		if phase.Loop.OnExhausted != model.ON_EXHAUSTED_ESCALATE && phase.Loop.OnExhausted != model.ON_EXHAUSTED_FAIL {
			return fail(fmt.Sprintf("unknown exhaustion policy %s", phase.Loop.OnExhausted))
		}
		if len(phase.Capabilities) < 1 {
			return fail("loop phase requires at least one body capability")
		}
	case model.PHASE_KIND_GATE:
		if phase.Gate == nil {
			return fail("gate phase requires gate config")
		}
		if index == 0 {
			return fail("gate can not be the first phase")
		}
		target := phase.Gate.ReviseTarget
		if target < -1 || target >= index {
			return fail(fmt.Sprintf("revise target %d must precede the gate", target))
		}
		if target >= 0 && def.Phases[target].Kind == model.PHASE_KIND_GATE {
			return fail("revise target can not be another gate")
		}
	default:
		return fail(fmt.Sprintf("unknown phase kind %s", phase.Kind))
	}
	for _, capability := range phase.Capabilities {
		if capability == "" {
			return fail("capability name can not be empty")
		}
	}
	return nil
}

// checkCapabilitiesRegistered rejects definitions referencing capabilities
// without a registered definition. Applied on save only; custom in-process
// invokers resolve capabilities outside the catalog.
func (s *metadataService) checkCapabilitiesRegistered(def model.WorkflowDefinition) error {
	check := func(phase model.PhaseSpec, capability string) error {
		if _, err := s.storage.GetCapabilityDefinition(capability); err != nil {
			if _, ok := err.(persistence.NotFoundError); ok {
				return model.DefinitionError{Workflow: def.Name, Reason: fmt.Sprintf("phase %s: capability %s not registered", phase.Id, capability)}
			}
			return err
		}
		return nil
	}
	for _, phase := range def.Phases {
		for _, capability := range phase.Capabilities {
			if err := check(phase, capability); err != nil {
				return err
			}
		}
		if phase.Kind == model.PHASE_KIND_LOOP {
			if err := check(phase, phase.Loop.ExitCapability); err != nil {
				return err
			}
		}
	}
	return nil
}
