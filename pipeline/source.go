package astipipeline

import (
	"fmt"
	"sync"
)

// Source is the ingestion endpoint of a stream: callers push caps, buffers and EOS
// into a FIFO queue that is drained downstream while the pipeline is playing.
//
// Need-data fires once the queue is back at half its max buffers, enough-data fires
// once it reaches its max buffers. Both callbacks are invoked with the source locked
// and must not call back into the source.
type Source struct {
	c          *sync.Cond
	caps       *Caps
	closed     bool
	delivering bool
	done       chan struct{}
	downstream Handler
	eos        bool
	err        error
	flowing    bool
	items      []sourceItem
	maxBuffers int
	md         ElementMetadata
	needing    bool
	onEnough   func()
	onNeed     func()
	p          *Pipeline
	state      State
}

type sourceItem struct {
	b   *Buffer
	c   *Caps
	eos bool
}

func newSource(p *Pipeline, md ElementMetadata) (Element, error) {
	md.Description = "Feeds pushed buffers downstream"
	md.Label = fmt.Sprintf("Source %s", md.Name)
	return &Source{
		c:          sync.NewCond(&sync.Mutex{}),
		maxBuffers: p.o.MaxBuffers,
		md:         md,
		needing:    true,
		p:          p,
	}, nil
}

// Metadata implements the Element interface
func (s *Source) Metadata() ElementMetadata { return s.md }

// Link implements the Linker interface
func (s *Source) Link(h Handler) error {
	s.c.L.Lock()
	defer s.c.L.Unlock()
	if s.downstream != nil {
		return newCoreError(CoreErrorPad, "%s is already linked", s.md.Name)
	}
	s.downstream = h
	return nil
}

// OnNeedData sets the need-data callback
func (s *Source) OnNeedData(f func()) {
	s.c.L.Lock()
	defer s.c.L.Unlock()
	s.onNeed = f
}

// OnEnoughData sets the enough-data callback
func (s *Source) OnEnoughData(f func()) {
	s.c.L.Lock()
	defer s.c.L.Unlock()
	s.onEnough = f
}

// Caps returns the last caps set
func (s *Source) Caps() *Caps {
	s.c.L.Lock()
	defer s.c.L.Unlock()
	if s.caps == nil {
		return nil
	}
	c := s.caps.Clone()
	return &c
}

// SetState implements the Element interface
func (s *Source) SetState(st State) error {
	s.c.L.Lock()
	from := s.state
	switch {
	case from == StateNull && st == StateReady:
		if s.downstream == nil {
			s.c.L.Unlock()
			return newCoreError(CoreErrorPad, "%s is not linked", s.md.Name)
		}
		s.closed = false
		s.done = make(chan struct{})
		go s.loop(s.done)
	case st == StatePlaying:
		s.flowing = true
		s.c.Broadcast()
	case from == StatePlaying && st == StatePaused:
		s.flowing = false
	case from == StatePaused && st == StateReady:
		// Everything accepted so far reaches downstream
		s.flowing = true
		s.c.Broadcast()
		for !s.closed && (len(s.items) > 0 || s.delivering) {
			s.c.Wait()
		}
		s.flowing = false
	case from == StateReady && st == StateNull:
		s.closed = true
		s.items = nil
		s.c.Broadcast()
		done := s.done
		s.state = st
		s.c.L.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	s.state = st
	s.c.L.Unlock()
	return nil
}

func (s *Source) checkPush() error {
	if s.state == StateNull {
		return newStreamError(StreamErrorFlushing, "%s is not ready", s.md.Name)
	} else if s.eos {
		return newStreamError(StreamErrorEOS, "%s has already received EOS", s.md.Name)
	} else if s.err != nil {
		return s.err
	}
	return nil
}

func (s *Source) add(i sourceItem) {
	s.items = append(s.items, i)
	if s.needing && len(s.items) >= s.maxBuffers {
		s.needing = false
		if s.onEnough != nil {
			s.onEnough()
		}
	}
	s.c.Broadcast()
}

// Push queues a buffer
func (s *Source) Push(b *Buffer) error {
	s.c.L.Lock()
	defer s.c.L.Unlock()
	if err := s.checkPush(); err != nil {
		return err
	}
	s.add(sourceItem{b: b})
	return nil
}

// SetCaps queues a caps change, applied downstream before the next buffer
func (s *Source) SetCaps(c Caps) error {
	s.c.L.Lock()
	defer s.c.L.Unlock()
	if err := s.checkPush(); err != nil {
		return err
	}
	c = c.Clone()
	s.caps = &c
	s.add(sourceItem{c: &c})
	return nil
}

// EndOfStream queues an EOS, after which nothing can be pushed
func (s *Source) EndOfStream() error {
	s.c.L.Lock()
	defer s.c.L.Unlock()
	if err := s.checkPush(); err != nil {
		return err
	}
	s.eos = true
	s.add(sourceItem{eos: true})
	return nil
}

func (s *Source) loop(done chan struct{}) {
	defer close(done)
	for {
		// Wait for an item
		s.c.L.Lock()
		for !s.closed && (!s.flowing || len(s.items) == 0) {
			s.c.Wait()
		}
		if s.closed {
			s.c.L.Unlock()
			return
		}

		// Pop
		i := s.items[0]
		s.items[0] = sourceItem{}
		s.items = s.items[1:]
		if !s.needing && len(s.items) <= s.maxBuffers/2 {
			s.needing = true
			if s.onNeed != nil {
				s.onNeed()
			}
		}
		s.delivering = true
		h, errored := s.downstream, s.err != nil
		s.c.L.Unlock()

		// Deliver unless a previous item failed
		var err error
		if !errored {
			err = s.deliver(h, i)
		}

		// Done delivering
		s.c.L.Lock()
		s.delivering = false
		if err != nil {
			s.err = toError(err)
		}
		s.c.Broadcast()
		s.c.L.Unlock()

		// Report
		if err != nil {
			s.p.bus.postError(s.md.Name, err)
		}
	}
}

func (s *Source) deliver(h Handler, i sourceItem) error {
	switch {
	case i.c != nil:
		return h.HandleCaps(*i.c)
	case i.eos:
		return h.HandleEOS()
	default:
		return h.HandleBuffer(i.b)
	}
}
