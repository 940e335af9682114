package astimuxer

import (
	"context"
	"errors"
	"sync"

	"github.com/asticode/go-astikit"
	astipipeline "github.com/asticode/go-astimuxer/pipeline"
)

// ErrorCallback is called with asynchronous backend errors
type ErrorCallback func(code ErrorCode, err error)

// translateError maps a backend error to a result code
func translateError(err error) ErrorCode {
	// Already translated
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	// Pipeline error
	pe, ok := astipipeline.ErrorOf(err)
	if !ok {
		return ErrorCodeInvalidOperation
	}
	switch pe.Domain {
	case astipipeline.ErrorDomainResource:
		switch pe.Code {
		case astipipeline.ResourceErrorNoSpaceLeft:
			return ErrorCodeResourceLimit
		case astipipeline.ResourceErrorOpenWrite, astipipeline.ResourceErrorNotAuthorized:
			return ErrorCodePermissionDenied
		}
	case astipipeline.ErrorDomainCore:
		if pe.Code == astipipeline.CoreErrorMissingPlugin {
			return ErrorCodeResourceLimit
		}
	}
	return ErrorCodeInvalidOperation
}

// errorDispatcher delivers translated errors to the error callback on a single goroutine
type errorDispatcher struct {
	c      *astikit.Chan
	cancel context.CancelFunc
	cb     ErrorCallback
	done   chan struct{}
	eh     *EventHandler
	l      astikit.CompleteLogger
	m      *sync.Mutex // Locks cb
	o      *sync.Once
	target interface{}
}

func newErrorDispatcher(target interface{}, eh *EventHandler, l astikit.CompleteLogger) (d *errorDispatcher) {
	d = &errorDispatcher{
		c:      astikit.NewChan(astikit.ChanOptions{ProcessAll: true}),
		done:   make(chan struct{}),
		eh:     eh,
		l:      l,
		m:      &sync.Mutex{},
		o:      &sync.Once{},
		target: target,
	}

	// Start
	var ctx context.Context
	ctx, d.cancel = context.WithCancel(context.Background())
	go func() {
		defer close(d.done)
		d.c.Start(ctx)
	}()
	return
}

func (d *errorDispatcher) set(cb ErrorCallback) error {
	d.m.Lock()
	defer d.m.Unlock()
	if cb == nil {
		return newError(ErrorCodeInvalidParameter, nil, "error callback is nil")
	} else if d.cb != nil {
		return newError(ErrorCodeInvalidOperation, nil, "an error callback is already set")
	}
	d.cb = cb
	return nil
}

func (d *errorDispatcher) unset() error {
	d.m.Lock()
	defer d.m.Unlock()
	if d.cb == nil {
		return newError(ErrorCodeInvalidOperation, nil, "no error callback is set")
	}
	d.cb = nil
	return nil
}

// dispatch translates err and queues it
func (d *errorDispatcher) dispatch(err error) {
	c := translateError(err)
	e := newError(c, err, "backend failed")
	d.c.Add(func() {
		// Emit
		d.eh.Emit(EventError(d.target, e))

		// Get callback
		d.m.Lock()
		cb := d.cb
		d.m.Unlock()

		// No callback
		if cb == nil {
			d.l.Errorf("astimuxer: no error callback, dropping %s (%s)", e, c)
			return
		}
		cb(c, e)
	})
}

// emit queues e so that events and callbacks are delivered in order
func (d *errorDispatcher) emit(e Event) {
	d.c.Add(func() { d.eh.Emit(e) })
}

// close waits for queued errors to be delivered
func (d *errorDispatcher) close() {
	d.o.Do(func() {
		d.cancel()
		d.c.Stop()
		<-d.done
	})
}
