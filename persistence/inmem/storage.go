package inmem

import (
	"sync"

	"github.com/avovello/stagerun/model"
	"github.com/avovello/stagerun/persistence"
	"github.com/avovello/stagerun/util"
)

// Storage keeps definitions and sessions in process memory. Sessions go
// through a JSON round trip on save and load so callers always hold
// independent copies, same as the redis implementation.
type Storage struct {
	mu            sync.RWMutex
	workflows     map[string]model.WorkflowDefinition
	capabilities  map[string]model.CapabilityDefinition
	sessions      map[string][]byte
	sessionEncDec util.EncoderDecoder[model.RunSession]
}

var _ persistence.MetadataStorage = new(Storage)
var _ persistence.SessionStorage = new(Storage)

func NewStorage() *Storage {
	return &Storage{
		workflows:     make(map[string]model.WorkflowDefinition),
		capabilities:  make(map[string]model.CapabilityDefinition),
		sessions:      make(map[string][]byte),
		sessionEncDec: util.NewJsonEncoderDecoder[model.RunSession](),
	}
}

func (s *Storage) SaveWorkflowDefinition(def model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[def.Name] = def
	return nil
}

func (s *Storage) GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.workflows[name]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "workflow", Name: name}
	}
	return &def, nil
}

func (s *Storage) DeleteWorkflowDefinition(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, name)
	return nil
}

func (s *Storage) SaveCapabilityDefinition(cap model.CapabilityDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[cap.Name] = cap
	return nil
}

func (s *Storage) GetCapabilityDefinition(name string) (*model.CapabilityDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cap, ok := s.capabilities[name]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "capability", Name: name}
	}
	return &cap, nil
}

func (s *Storage) DeleteCapabilityDefinition(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.capabilities, name)
	return nil
}

func (s *Storage) SaveSession(session *model.RunSession) error {
	data, err := s.sessionEncDec.Encode(*session)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Id] = data
	return nil
}

func (s *Storage) GetSession(id string) (*model.RunSession, error) {
	s.mu.RLock()
	data, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, persistence.NotFoundError{Kind: "session", Name: id}
	}
	session, err := s.sessionEncDec.Decode(data)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return session, nil
}

func (s *Storage) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
