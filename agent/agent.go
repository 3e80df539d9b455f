package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/avovello/stagerun/audit"
	"github.com/avovello/stagerun/config"
	"github.com/avovello/stagerun/engine"
	"github.com/avovello/stagerun/invoker"
	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/metadata"
	"github.com/avovello/stagerun/persistence"
	"github.com/avovello/stagerun/persistence/inmem"
	rd "github.com/avovello/stagerun/persistence/redis"
	"github.com/avovello/stagerun/rest"
	"github.com/avovello/stagerun/service"
)

// Agent wires storage, metadata, invoker, engine, execution service and the
// http server together and manages their lifecycle.
type Agent struct {
	Config           config.Config
	metadataStorage  persistence.MetadataStorage
	sessionStorage   persistence.SessionStorage
	metadataService  metadata.MetadataService
	taskInvoker      invoker.TaskInvoker
	phaseEngine      *engine.PhaseEngine
	trail            *audit.Trail
	executionService *service.ExecutionService
	httpServer       *rest.Server
	shutdown         bool
	shutdownLock     sync.Mutex
	wg               sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupMetadataService,
		a.setupEngine,
		a.setupExecutionService,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		rdConf := rd.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		}
		a.metadataStorage = rd.NewRedisMetadataStorage(rdConf)
		a.sessionStorage = rd.NewRedisSessionStorage(rdConf)
	case config.STORAGE_TYPE_INMEM:
		storage := inmem.NewStorage()
		a.metadataStorage = storage
		a.sessionStorage = storage
	default:
		return fmt.Errorf("unknown storage type %s", a.Config.StorageType)
	}
	return nil
}

func (a *Agent) setupMetadataService() error {
	a.metadataService = metadata.NewMetadataService(a.metadataStorage)
	return nil
}

func (a *Agent) setupEngine() error {
	a.taskInvoker = invoker.NewMetadataInvoker(a.metadataService)
	taskTimeout := time.Duration(a.Config.TaskTimeoutSeconds) * time.Second
	a.phaseEngine = engine.NewPhaseEngine(a.taskInvoker, taskTimeout)
	return nil
}

func (a *Agent) setupExecutionService() error {
	if a.Config.AuditLogFile != "" {
		trail, err := audit.NewTrail(a.Config.AuditLogFile)
		if err != nil {
			return err
		}
		a.trail = trail
	}
	a.executionService = service.NewExecutionService(a.metadataService, a.sessionStorage, a.phaseEngine,
		a.trail, a.Config.WorkerPoolSize, a.Config.WorkerPoolCapacity, &a.wg)
	a.executionService.Start()
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.executionService)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	go func() {
		err := a.httpServer.Start()
		if err != nil {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.executionService.Stop,
		a.httpServer.Stop,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	a.wg.Wait()
	return nil
}
