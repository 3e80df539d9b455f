package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avovello/stagerun/audit"
	"github.com/avovello/stagerun/engine"
	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/metadata"
	"github.com/avovello/stagerun/model"
	"github.com/avovello/stagerun/persistence"
	"github.com/avovello/stagerun/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecutionService is the run control surface: start, status, resume, abort
// and report. Every running session has exactly one driver, scheduled on the
// worker pool; a session paused at a gate has none and waits for Resume.
// Sessions are fully isolated from each other.
type ExecutionService struct {
	metadataService metadata.MetadataService
	storage         persistence.SessionStorage
	engine          *engine.PhaseEngine
	trail           *audit.Trail
	pool            *util.WorkerPool
	mu              sync.Mutex
	active          map[string]*runHandle
}

// runHandle is the exclusive claim on a session. Whoever holds it owns the
// session's stored state until release; claims never overwrite each other.
type runHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type sessionRun struct {
	handle  *runHandle
	session *model.RunSession
}

func NewExecutionService(metadataService metadata.MetadataService, storage persistence.SessionStorage, eng *engine.PhaseEngine, trail *audit.Trail, poolSize int, poolCapacity int, wg *sync.WaitGroup) *ExecutionService {
	s := &ExecutionService{
		metadataService: metadataService,
		storage:         storage,
		engine:          eng,
		trail:           trail,
		active:          make(map[string]*runHandle),
	}
	s.pool = util.NewWorkerPool("session-driver", poolSize, poolCapacity, s.handle, wg)
	return s
}

func (s *ExecutionService) Start() {
	s.pool.Start()
}

func (s *ExecutionService) Stop() error {
	s.mu.Lock()
	for _, h := range s.active {
		h.cancel()
	}
	s.mu.Unlock()
	s.pool.Stop()
	return nil
}

// claim takes the session's exclusive slot. It fails when a driver or another
// control call already holds it, making check and ownership a single step.
func (s *ExecutionService) claim(id string) (*runHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[id]; exists {
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{ctx: ctx, cancel: cancel}
	s.active[id] = h
	return h, true
}

func (s *ExecutionService) release(id string, h *runHandle) {
	s.mu.Lock()
	if s.active[id] == h {
		delete(s.active, id)
	}
	s.mu.Unlock()
	h.cancel()
}

// StartSession launches a workflow and returns the new session id. The
// definition is validated again at launch so a malformed workflow is never
// partially executed.
func (s *ExecutionService) StartSession(name string, input map[string]any) (string, error) {
	def, err := s.metadataService.GetWorkflowDefinition(name)
	if err != nil {
		return "", err
	}
	if err := s.metadataService.ValidateWorkflow(*def); err != nil {
		return "", err
	}
	session := model.NewRunSession(uuid.New().String(), *def, input)
	if err := s.storage.SaveSession(session); err != nil {
		return "", err
	}
	logger.Info("starting session", zap.String("session", session.Id), zap.String("workflow", name))
	h, _ := s.claim(session.Id)
	s.pool.Submit(sessionRun{handle: h, session: session})
	return session.Id, nil
}

// Status returns a snapshot of the session as of its last saved transition.
// Snapshots never alias live driver state.
func (s *ExecutionService) Status(id string) (*model.RunSession, error) {
	return s.storage.GetSession(id)
}

// Resume supplies the decision a session paused at a gate is waiting for. The
// claim is held from the availability check through the driver handoff, so
// concurrent resumes can not both act on the same pause.
func (s *ExecutionService) Resume(id string, decision model.Decision) error {
	h, ok := s.claim(id)
	if !ok {
		return fmt.Errorf("session %s is still executing", id)
	}
	session, err := s.storage.GetSession(id)
	if err != nil {
		s.release(id, h)
		return err
	}
	if err := s.engine.ApplyDecision(session, decision); err != nil {
		s.release(id, h)
		return err
	}
	s.trail.RecordDecision(id, decision)
	if err := s.storage.SaveSession(session); err != nil {
		s.release(id, h)
		return err
	}
	if session.State != model.SESSION_RUNNING {
		s.release(id, h)
		return nil
	}
	s.pool.Submit(sessionRun{handle: h, session: session})
	return nil
}

// Abort terminates a session. A running driver is cancelled, which cancels
// the outstanding invocations of the current phase and lets the driver mark
// the session itself. A paused or idle session is claimed and marked directly;
// a terminal session is never overwritten.
func (s *ExecutionService) Abort(id string) error {
	s.mu.Lock()
	h, running := s.active[id]
	s.mu.Unlock()
	if running {
		h.cancel()
		s.awaitDriverExit(id)
	}
	claim, ok := s.claim(id)
	if !ok {
		return fmt.Errorf("session %s is still executing", id)
	}
	defer s.release(id, claim)
	session, err := s.storage.GetSession(id)
	if err != nil {
		return err
	}
	if session.State.Terminal() {
		if running {
			return nil
		}
		return fmt.Errorf("session %s is already %s", id, session.State)
	}
	session.State = model.SESSION_ABORTED
	logger.Info("session aborted", zap.String("session", id))
	s.trail.RecordTransition(session)
	return s.storage.SaveSession(session)
}

func (s *ExecutionService) awaitDriverExit(id string) {
	for i := 0; i < 300; i++ {
		s.mu.Lock()
		_, still := s.active[id]
		s.mu.Unlock()
		if !still {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Report exposes the accumulated artifacts and the diagnostic trail of a
// terminal session for external rendering.
func (s *ExecutionService) Report(id string) (*model.RunReport, error) {
	session, err := s.storage.GetSession(id)
	if err != nil {
		return nil, err
	}
	if !session.State.Terminal() {
		return nil, fmt.Errorf("session %s is still %s", id, session.State)
	}
	return &model.RunReport{
		SessionId:   session.Id,
		Workflow:    session.Definition.Name,
		State:       session.State,
		Artifacts:   session.Artifacts,
		PhaseStates: session.PhaseStates,
	}, nil
}

func (s *ExecutionService) handle(task util.Task) error {
	run, ok := task.(sessionRun)
	if !ok {
		return fmt.Errorf("can not handle task of type other than sessionRun")
	}
	s.drive(run)
	return nil
}

// drive advances the session phase by phase until it terminates or pauses,
// saving after every transition so status reads stay consistent and paused
// sessions survive. The driver inherits the claim taken at launch and keeps
// it until exit, so no second driver or control call can touch the session
// while it runs.
func (s *ExecutionService) drive(run sessionRun) {
	session := run.session
	defer s.release(session.Id, run.handle)
	for session.State == model.SESSION_RUNNING {
		err := s.engine.Advance(run.handle.ctx, session)
		s.trail.RecordTransition(session)
		if saveErr := s.storage.SaveSession(session); saveErr != nil {
			logger.Error("error saving session", zap.String("session", session.Id), zap.Error(saveErr))
			return
		}
		if err != nil {
			logger.Error("error advancing session", zap.String("session", session.Id), zap.Error(err))
			return
		}
	}
}
