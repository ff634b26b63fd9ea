package rtshare

import (
	"errors"
	"sync"

	"go.uber.org/atomic"
)

// OnceActivateHandler brings an object up. DoOnceActivate runs it at most once, with
// shutdown held off; a non-nil result aborts activation and shuts the object down.
type OnceActivateHandler func() error

// OnceShutdownHandler does the real teardown work for an object embedding ShutdownHelper.
type OnceShutdownHandler interface {
	// HandleOnceShutdown runs once, on its own goroutine. completionError is the
	// status passed to the first StartShutdown/ForceShutdown; the return value
	// becomes the final status. IsForcedShutdown tells whether in-flight work may
	// be abandoned.
	HandleOnceShutdown(completionError error) error
}

// AsyncShutdowner is anything that can be shut down in the background and waited on
type AsyncShutdowner interface {
	// StartShutdown requests a graceful shutdown. Later calls are ignored.
	StartShutdown(completionErr error)

	// ForceShutdown requests a shutdown that does not wait for in-flight work. It
	// upgrades a graceful shutdown that is still running.
	ForceShutdown(completionErr error)

	ShutdownDoneChan() <-chan struct{}
	IsDoneShutdown() bool

	// WaitShutdown blocks until shutdown has finished and returns the final status
	WaitShutdown() error
}

type shutdownState int32

const (
	stateIdle shutdownState = iota
	stateScheduled
	stateRunning
	stateDone
)

var errAlreadyShutdown = errors.New("shutdown already started")

// ShutdownHelper is embedded by objects that start goroutines or own sockets. It
// makes teardown happen exactly once, lets the owner ask for it from any goroutine,
// and shuts down registered children after the owner's own handler has run. A
// forced shutdown forces its children too.
type ShutdownHelper struct {
	Logger

	// Lock guards the helper's bookkeeping. Embedding types may use it for their own state.
	Lock sync.Mutex

	handler OnceShutdownHandler
	state   atomic.Int32

	activated bool
	// holds counts callers that have deferred shutdown; protected by Lock
	holds int

	forced     atomic.Bool
	forcedOnce sync.Once
	forcedChan chan struct{}

	// status is the advisory completion error until the handler returns, then the final one
	status error

	startedChan     chan struct{}
	handlerDoneChan chan struct{}
	doneChan        chan struct{}

	children sync.WaitGroup
}

// InitShutdownHelper prepares h for use; it must be called before any other method
func (h *ShutdownHelper) InitShutdownHelper(logger Logger, handler OnceShutdownHandler) {
	h.Logger = logger
	h.handler = handler
	h.forcedChan = make(chan struct{})
	h.startedChan = make(chan struct{})
	h.handlerDoneChan = make(chan struct{})
	h.doneChan = make(chan struct{})
}

func (h *ShutdownHelper) loadState() shutdownState {
	return shutdownState(h.state.Load())
}

// runIfReadyLocked moves a scheduled shutdown to running unless it is paused. Call
// with Lock held; a true result means the caller must launch it after unlocking.
func (h *ShutdownHelper) runIfReadyLocked() bool {
	if h.loadState() != stateScheduled || h.holds > 0 {
		return false
	}
	h.state.Store(int32(stateRunning))
	return true
}

func (h *ShutdownHelper) launch() {
	h.TLogf("shutdown started (forced=%t)", h.IsForcedShutdown())
	close(h.startedChan)
	go func() {
		h.status = h.handler.HandleOnceShutdown(h.status)
		close(h.handlerDoneChan)
		h.children.Wait()
		h.state.Store(int32(stateDone))
		h.TLogf("shutdown done")
		close(h.doneChan)
	}()
}

// DoOnceActivate runs activate the first time it is called, holding off shutdown
// meanwhile. If activate fails, shutdown is started with its error, and if
// waitOnFail is set DoOnceActivate returns only once that shutdown has finished.
// Calling it after shutdown has begun returns an error without running activate.
func (h *ShutdownHelper) DoOnceActivate(activate OnceActivateHandler, waitOnFail bool) error {
	h.Lock.Lock()
	if h.activated {
		h.Lock.Unlock()
		return nil
	}
	if h.loadState() >= stateRunning {
		h.Lock.Unlock()
		if waitOnFail {
			if err := h.WaitShutdown(); err != nil {
				return err
			}
		}
		return h.Errorf("cannot activate: %w", errAlreadyShutdown)
	}
	h.holds++
	h.Lock.Unlock()

	err := activate()
	h.Lock.Lock()
	h.activated = err == nil
	h.Lock.Unlock()
	if err != nil {
		h.StartShutdown(err)
	}
	h.ResumeShutdown()
	if err != nil && waitOnFail {
		h.WaitShutdown()
	}
	return err
}

// IsActivated reports whether DoOnceActivate has succeeded
func (h *ShutdownHelper) IsActivated() bool {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	return h.activated
}

// PauseShutdown defers any shutdown request until the matching ResumeShutdown. It
// fails if shutdown is already running.
func (h *ShutdownHelper) PauseShutdown() error {
	h.Lock.Lock()
	defer h.Lock.Unlock()
	if h.loadState() >= stateRunning {
		return h.Errorf("cannot pause: %w", errAlreadyShutdown)
	}
	h.holds++
	return nil
}

// ResumeShutdown releases one PauseShutdown. A shutdown requested meanwhile starts now.
func (h *ShutdownHelper) ResumeShutdown() {
	h.Lock.Lock()
	if h.holds == 0 {
		h.Lock.Unlock()
		h.Panicf("ResumeShutdown without PauseShutdown")
		return
	}
	h.holds--
	start := h.runIfReadyLocked()
	h.Lock.Unlock()
	if start {
		h.launch()
	}
}

// StartShutdown requests a graceful shutdown. Only the first request (graceful or
// forced) sets the completion status. The handler runs in the background, then
// every child is shut down and waited for, then ShutdownDoneChan is closed.
func (h *ShutdownHelper) StartShutdown(completionErr error) {
	h.Lock.Lock()
	if h.loadState() == stateIdle {
		h.status = completionErr
		h.state.Store(int32(stateScheduled))
	}
	start := h.runIfReadyLocked()
	h.Lock.Unlock()
	if start {
		h.launch()
	}
}

// ForceShutdown raises the force flag, then requests shutdown as StartShutdown does
func (h *ShutdownHelper) ForceShutdown(completionErr error) {
	h.forced.Store(true)
	h.forcedOnce.Do(func() { close(h.forcedChan) })
	h.StartShutdown(completionErr)
}

// Shutdown requests a shutdown and waits for it
func (h *ShutdownHelper) Shutdown(force bool, completionErr error) error {
	if force {
		h.ForceShutdown(completionErr)
	} else {
		h.StartShutdown(completionErr)
	}
	return h.WaitShutdown()
}

// Close shuts down gracefully and waits; it makes the helper an io.Closer
func (h *ShutdownHelper) Close() error {
	return h.Shutdown(false, nil)
}

// WaitShutdown waits for a shutdown someone else requested
func (h *ShutdownHelper) WaitShutdown() error {
	<-h.doneChan
	return h.status
}

func (h *ShutdownHelper) IsScheduledShutdown() bool {
	return h.loadState() >= stateScheduled
}

func (h *ShutdownHelper) IsStartedShutdown() bool {
	return h.loadState() >= stateRunning
}

func (h *ShutdownHelper) IsDoneShutdown() bool {
	return h.loadState() == stateDone
}

func (h *ShutdownHelper) IsForcedShutdown() bool {
	return h.forced.Load()
}

// ShutdownStartedChan is closed when the handler is about to run
func (h *ShutdownHelper) ShutdownStartedChan() <-chan struct{} {
	return h.startedChan
}

// ShutdownForcedChan is closed by ForceShutdown; graceful waits select on it to cut short
func (h *ShutdownHelper) ShutdownForcedChan() <-chan struct{} {
	return h.forcedChan
}

// ShutdownDoneChan is closed once the handler and all children have finished
func (h *ShutdownHelper) ShutdownDoneChan() <-chan struct{} {
	return h.doneChan
}

// AddShutdownChildChan makes shutdown completion wait for done to be closed
func (h *ShutdownHelper) AddShutdownChildChan(done <-chan struct{}) {
	h.children.Add(1)
	go func() {
		defer h.children.Done()
		<-done
	}()
}

// AddShutdownChild ties child's lifetime to h: once h's handler has returned, child
// is shut down (forced if h was) and h does not finish until child has. A child
// that finishes on its own earlier is simply released.
func (h *ShutdownHelper) AddShutdownChild(child AsyncShutdowner) {
	h.children.Add(1)
	go func() {
		defer h.children.Done()
		select {
		case <-child.ShutdownDoneChan():
			return
		case <-h.handlerDoneChan:
		}
		if h.IsForcedShutdown() {
			child.ForceShutdown(h.status)
		} else {
			child.StartShutdown(h.status)
		}
		child.WaitShutdown()
	}()
}
