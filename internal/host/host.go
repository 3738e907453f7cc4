// Package host implements the Monitoring Host: the supervisor that owns
// the worker set, the single cancellation signal, and the coarse
// Stopped/Running/Stopping state machine (spec §4.8).
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the Monitoring Host's coarse lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Worker is the contract every registered worker must satisfy: a
// function taking a cancellation context, honoring it promptly — at
// minimum every scan_interval (spec §4.8).
type Worker func(ctx context.Context)

// EventSink mirrors behavior.EventSink / action.EventSink.
type EventSink interface {
	Log(event map[string]any)
}

// shutdownDrain bounds how long StopAsync waits for workers before
// logging stragglers and returning anyway (spec §4.8 "must complete
// even if a worker hangs").
const shutdownDrain = 5 * time.Second

// registeredWorker pairs a worker with the name used in diagnostics.
type registeredWorker struct {
	name string
	fn   Worker
}

// Host is the Monitoring Host (spec §4.8).
type Host struct {
	sink EventSink
	log  *zap.Logger

	mu      sync.Mutex
	state   State
	workers []registeredWorker
	cancel  context.CancelFunc
	done    chan struct{} // closed once all workers of the current run have returned
}

func New(sink EventSink, log *zap.Logger) *Host {
	return &Host{sink: sink, log: log, state: Stopped}
}

// Register adds a worker to the set started by the next Start call. Must
// be called before Start (or after a subsequent Stop) — Register while
// Running has no effect on the already-running set.
func (h *Host) Register(name string, fn Worker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers = append(h.workers, registeredWorker{name: name, fn: fn})
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Start transitions Stopped → Running, launching every registered
// worker under a fresh cancellation context. Start on an already-Running
// host is a no-op (spec §8 "supervisor idempotence").
func (h *Host) Start() {
	h.mu.Lock()
	if h.state != Stopped {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.state = Running
	done := make(chan struct{})
	h.done = done
	workers := append([]registeredWorker(nil), h.workers...)
	h.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, w := range workers {
		go h.runWorker(ctx, w, &wg)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
}

// runWorker executes one worker, recovering a panic and swallowing it as
// an audited monitoringWorkerFailed event (spec §4.8, §7 "Worker
// fatal").
func (h *Host) runWorker(ctx context.Context, w registeredWorker, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			h.audit(w.name, fmt.Errorf("panic: %v", r))
		}
	}()
	w.fn(ctx)
}

// StopAsync transitions Running → Stopping → Stopped: signals
// cancellation, awaits all workers up to a bounded drain, releases the
// cancellation object, then settles on Stopped. It completes even if a
// worker hangs past the drain window, logging the straggler count.
// StopAsync on an already-Stopped host is a no-op.
func (h *Host) StopAsync() {
	h.mu.Lock()
	if h.state != Running {
		h.mu.Unlock()
		return
	}
	h.state = Stopping
	cancel := h.cancel
	done := h.done
	h.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(shutdownDrain):
		if h.log != nil {
			h.log.Warn("monitoring host shutdown drain timeout — workers still running")
		}
	}

	h.mu.Lock()
	h.cancel = nil
	h.done = nil
	h.state = Stopped
	h.mu.Unlock()
}

// RestartAsync is StopAsync followed by Start; it leaves State ==
// Running (spec §8 "supervisor idempotence").
func (h *Host) RestartAsync() {
	h.StopAsync()
	h.Start()
}

func (h *Host) audit(workerName string, err error) {
	if h.log != nil {
		h.log.Error("monitoring worker failed", zap.String("worker", workerName), zap.Error(err))
	}
	if h.sink != nil {
		h.sink.Log(map[string]any{
			"event_type": "monitoringWorkerFailed",
			"worker":     workerName,
			"error":      err.Error(),
		})
	}
}
