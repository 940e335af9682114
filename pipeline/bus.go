package astipipeline

import (
	"context"
	"sync"

	"github.com/asticode/go-astikit"
)

// MessageType represents a bus message type
type MessageType int

// Message types
const (
	MessageTypeError MessageType = iota
	MessageTypeEOS
	MessageTypeStateChanged
)

// Message represents a bus message
type Message struct {
	Err      *Error
	NewState State
	OldState State
	Source   string
	Type     MessageType
}

// MessageHandler handles bus messages
type MessageHandler func(m Message)

// Bus delivers messages asynchronously, in order, on a single goroutine
type Bus struct {
	c      *astikit.Chan
	cancel context.CancelFunc
	done   chan struct{}
	h      MessageHandler
	m      *sync.Mutex // Locks h
	o      *sync.Once
}

func newBus() *Bus {
	return &Bus{
		c:    astikit.NewChan(astikit.ChanOptions{ProcessAll: true}),
		done: make(chan struct{}),
		m:    &sync.Mutex{},
		o:    &sync.Once{},
	}
}

// SetHandler sets the message handler
func (b *Bus) SetHandler(h MessageHandler) {
	b.m.Lock()
	defer b.m.Unlock()
	b.h = h
}

func (b *Bus) start() {
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	go func() {
		defer close(b.done)
		b.c.Start(ctx)
	}()
}

// stop waits for pending messages to be delivered
func (b *Bus) stop() {
	b.o.Do(func() {
		if b.cancel == nil {
			return
		}
		b.cancel()
		b.c.Stop()
		<-b.done
	})
}

// Post queues a message
func (b *Bus) Post(m Message) {
	b.c.Add(func() {
		b.m.Lock()
		h := b.h
		b.m.Unlock()
		if h != nil {
			h(m)
		}
	})
}

func (b *Bus) postError(source string, err error) {
	b.Post(Message{
		Err:    toError(err),
		Source: source,
		Type:   MessageTypeError,
	})
}
