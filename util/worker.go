package util

import (
	"sync"

	"github.com/avovello/stagerun/logger"
	"go.uber.org/zap"
)

type Task any

// WorkerPool runs submitted tasks on a fixed set of goroutines. A task that
// returns control (a session pausing at a gate) frees its worker.
type WorkerPool struct {
	name     string
	size     int
	stop     chan struct{}
	wg       *sync.WaitGroup
	handler  func(Task) error
	taskChan chan Task
}

func NewWorkerPool(name string, size int, capacity int, handler func(Task) error, wg *sync.WaitGroup) *WorkerPool {
	return &WorkerPool{
		name:     name,
		size:     size,
		stop:     make(chan struct{}),
		wg:       wg,
		handler:  handler,
		taskChan: make(chan Task, capacity),
	}
}

func (w *WorkerPool) Start() {
	for i := 0; i < w.size; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case task := <-w.taskChan:
					err := w.handler(task)
					if err != nil {
						logger.Error("error in executing task in worker", zap.String("worker", w.name), zap.Error(err))
					}
				case <-w.stop:
					logger.Info("stopping worker", zap.String("worker", w.name))
					return
				}
			}
		}()
	}
}

func (w *WorkerPool) Submit(task Task) {
	w.taskChan <- task
}

func (w *WorkerPool) Stop() {
	close(w.stop)
}
