package astimuxer

import (
	"context"
	"sync"
)

// feedGate blocks writers while the endpoint has enough data.
// It starts open.
type feedGate struct {
	c     chan struct{} // Closed while open
	m     *sync.Mutex
	ready bool
}

func newFeedGate() *feedGate {
	g := &feedGate{
		c: make(chan struct{}),
		m: &sync.Mutex{},
	}
	g.open()
	return g
}

// open is called on need-data
func (g *feedGate) open() {
	g.m.Lock()
	defer g.m.Unlock()
	if g.ready {
		return
	}
	g.ready = true
	close(g.c)
}

// close is called on enough-data
func (g *feedGate) close() {
	g.m.Lock()
	defer g.m.Unlock()
	if !g.ready {
		return
	}
	g.ready = false
	g.c = make(chan struct{})
}

func (g *feedGate) isOpen() bool {
	g.m.Lock()
	defer g.m.Unlock()
	return g.ready
}

// wait blocks until the gate is open or ctx is done
func (g *feedGate) wait(ctx context.Context) error {
	for {
		g.m.Lock()
		if g.ready {
			g.m.Unlock()
			return nil
		}
		c := g.c
		g.m.Unlock()

		select {
		case <-c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
