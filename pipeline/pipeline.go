package astipipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/asticode/go-astikit"
	"github.com/pkg/errors"
)

// Default options
const (
	DefaultFragmentSamples = 64
	DefaultMaxBuffers      = 32
)

var countPipeline uint64

// Options represents pipeline options
type Options struct {
	Factory         *Factory
	FragmentSamples int
	Logger          astikit.StdLogger
	MaxBuffers      int
}

// Pipeline holds elements and drives their states
type Pipeline struct {
	bus     *Bus
	f       *Factory
	l       astikit.CompleteLogger
	m       *sync.Mutex // Locks elements and state
	md      ElementMetadata
	muxers  []*Muxer
	o       Options
	parsers []Element
	sinks   []*FileSink
	sources []*Source
	state   State
}

// New creates a new pipeline in the null state
func New(o Options) (p *Pipeline) {
	// Default options
	if o.Factory == nil {
		o.Factory = NewFactory()
	}
	if o.FragmentSamples <= 0 {
		o.FragmentSamples = DefaultFragmentSamples
	}
	if o.MaxBuffers <= 0 {
		o.MaxBuffers = DefaultMaxBuffers
	}

	// Create pipeline
	count := atomic.AddUint64(&countPipeline, uint64(1))
	p = &Pipeline{
		bus: newBus(),
		f:   o.Factory,
		l:   astikit.AdaptStdLogger(o.Logger),
		m:   &sync.Mutex{},
		md: ElementMetadata{
			Label: fmt.Sprintf("Pipeline #%d", count),
			Name:  fmt.Sprintf("pipeline_%d", count),
		},
		o: o,
	}
	p.bus.start()
	return
}

// Bus returns the pipeline bus
func (p *Pipeline) Bus() *Bus { return p.bus }

// Metadata returns the pipeline metadata
func (p *Pipeline) Metadata() ElementMetadata { return p.md }

// Make creates an element by kind and adds it to the pipeline
func (p *Pipeline) Make(kind, name string) (e Element, err error) {
	// Lock
	p.m.Lock()
	defer p.m.Unlock()

	// Elements can only be added in the null state
	if p.state != StateNull {
		err = newCoreError(CoreErrorStateChange, "adding %s in state %s", name, p.state)
		return
	}

	// Make
	if e, err = p.f.make(p, kind, name); err != nil {
		err = errors.Wrapf(err, "astipipeline: making %s (%s) failed", name, kind)
		return
	}

	// Store
	switch v := e.(type) {
	case *FileSink:
		p.sinks = append(p.sinks, v)
	case *Muxer:
		p.muxers = append(p.muxers, v)
	case *Source:
		p.sources = append(p.sources, v)
	default:
		p.parsers = append(p.parsers, v)
	}
	return
}

// State returns the current state
func (p *Pipeline) State() State {
	p.m.Lock()
	defer p.m.Unlock()
	return p.state
}

// upstream returns elements from sinks to sources
func (p *Pipeline) upstream() (es []Element) {
	for _, e := range p.sinks {
		es = append(es, e)
	}
	for _, e := range p.muxers {
		es = append(es, e)
	}
	es = append(es, p.parsers...)
	for _, e := range p.sources {
		es = append(es, e)
	}
	return
}

// SetState moves every element to s one step at a time
func (p *Pipeline) SetState(s State) (err error) {
	// Lock
	p.m.Lock()
	defer p.m.Unlock()

	// Loop through steps
	for p.state != s {
		// Get next state and element order
		next := p.state + 1
		es := p.upstream()
		if s < p.state {
			next = p.state - 1
			for i, j := 0, len(es)-1; i < j; i, j = i+1, j-1 {
				es[i], es[j] = es[j], es[i]
			}
		}

		// Loop through elements
		for _, e := range es {
			if errE := e.SetState(next); errE != nil {
				if _, ok := ErrorOf(errE); !ok {
					errE = newError(ErrorDomainCore, CoreErrorStateChange, errE)
				}
				errE = errors.Wrapf(errE, "astipipeline: setting %s to %s failed", e.Metadata().Name, next)

				// Going up stops at the first failure, going down always completes
				if next > p.state {
					err = errE
					return
				} else if err == nil {
					err = errE
				}
			}
		}

		// Update state
		old := p.state
		p.state = next
		p.bus.Post(Message{
			NewState: next,
			OldState: old,
			Source:   p.md.Name,
			Type:     MessageTypeStateChanged,
		})
	}
	return
}

// Close moves the pipeline to null and waits for pending bus messages
func (p *Pipeline) Close() (err error) {
	err = p.SetState(StateNull)
	p.bus.stop()
	return
}

// muxerDone is called by muxers once every pad has received EOS
func (p *Pipeline) muxerDone(m *Muxer) {
	p.bus.Post(Message{
		Source: m.md.Name,
		Type:   MessageTypeEOS,
	})
}
