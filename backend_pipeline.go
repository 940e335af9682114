package astimuxer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/asticode/go-astikit"
	astipipeline "github.com/asticode/go-astimuxer/pipeline"
)

// PipelineBackend writes containers with an in-process astipipeline pipeline
type PipelineBackend struct {
	c         ConfigurationPipeline
	endpoints map[int]*pipelineEndpoint // Indexed by track index
	f         *astipipeline.Factory
	h         BackendMessageHandler
	l         astikit.CompleteLogger
	m         *sync.Mutex // Locks endpoints, h and p
	p         *astipipeline.Pipeline
	sl        astikit.StdLogger
}

func newPipelineBackend(c ConfigurationPipeline, l astikit.StdLogger) *PipelineBackend {
	return NewPipelineBackend(c, nil, l)
}

// NewPipelineBackend creates a pipeline backend making elements with f. A nil f means
// every built-in element is available.
func NewPipelineBackend(c ConfigurationPipeline, f *astipipeline.Factory, l astikit.StdLogger) *PipelineBackend {
	if f == nil {
		f = astipipeline.NewFactory()
	}
	return &PipelineBackend{
		c:         c,
		endpoints: make(map[int]*pipelineEndpoint),
		f:         f,
		l:         astikit.AdaptStdLogger(l),
		m:         &sync.Mutex{},
		sl:        l,
	}
}

// Name implements the Backend interface
func (b *PipelineBackend) Name() string { return BackendNamePipeline }

// SetDataSink implements the Backend interface
func (b *PipelineBackend) SetDataSink(path string, format ContainerFormat) (err error) {
	// Check format
	if format.muxerKind() == "" {
		return newError(ErrorCodeInvalidParameter, nil, "invalid container format %d", format)
	}

	// Check path
	if path == "" {
		return newError(ErrorCodeInvalidPath, nil, "path is empty")
	}

	// Make sure path can be written to without leaving a file behind
	_, errStat := os.Stat(path)
	var f *os.File
	if f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return newError(ErrorCodePermissionDenied, err, "%s is not writable", path)
		}
		return newError(ErrorCodeInvalidPath, err, "opening %s failed", path)
	}
	if err = f.Close(); err != nil {
		return newError(ErrorCodeInvalidPath, err, "closing %s failed", path)
	}
	if errStat != nil {
		if err = os.Remove(path); err != nil {
			return newError(ErrorCodeInvalidPath, err, "removing %s failed", path)
		}
	}
	return nil
}

// AddTrack implements the Backend interface
func (b *PipelineBackend) AddTrack(t *Track) error {
	if t.Format().MimeType.codec() == "" {
		return newError(ErrorCodeInvalidOperation, nil, "no pipeline codec for %s", t.Format().MimeType)
	}
	return nil
}

// SetMessageHandler implements the Backend interface
func (b *PipelineBackend) SetMessageHandler(h BackendMessageHandler) {
	b.m.Lock()
	defer b.m.Unlock()
	b.h = h
}

func (b *PipelineBackend) handleMessage(m astipipeline.Message) {
	switch m.Type {
	case astipipeline.MessageTypeEOS:
		b.l.Debugf("astimuxer: %s reached end of stream", m.Source)
	case astipipeline.MessageTypeError:
		// Get handler
		b.m.Lock()
		h := b.h
		b.m.Unlock()

		// Handle
		err := fmt.Errorf("astimuxer: %s failed: %w", m.Source, m.Err)
		if h == nil {
			b.l.Error(err)
			return
		}
		h(err)
	}
}

// Prepare implements the Backend interface
func (b *PipelineBackend) Prepare(o BackendPrepareOptions) (err error) {
	// Lock
	b.m.Lock()
	defer b.m.Unlock()

	// Already prepared
	if b.p != nil {
		return newError(ErrorCodeInvalidOperation, nil, "pipeline is already prepared")
	}

	// Create pipeline
	p := astipipeline.New(astipipeline.Options{
		Factory:         b.f,
		FragmentSamples: b.c.FragmentSamples,
		Logger:          b.sl,
		MaxBuffers:      b.c.MaxQueuedBuffers,
	})
	p.Bus().SetHandler(b.handleMessage)

	// Close on error
	defer func() {
		if err != nil {
			if errC := p.Close(); errC != nil {
				b.l.Error(fmt.Errorf("astimuxer: closing pipeline failed: %w", errC))
			}
			b.endpoints = make(map[int]*pipelineEndpoint)
		}
	}()

	// Build
	if err = b.build(p, o); err != nil {
		return newError(translateError(err), err, "building pipeline failed")
	}

	// Ready
	if err = p.SetState(astipipeline.StateReady); err != nil {
		return newError(translateError(err), err, "setting pipeline to ready failed")
	}

	// Set initial caps
	for _, e := range b.endpoints {
		if err = e.src.SetCaps(e.caps); err != nil {
			return newError(translateError(err), err, "setting caps of %s failed", e.src.Metadata().Name)
		}
	}
	b.p = p
	return
}

func (b *PipelineBackend) build(p *astipipeline.Pipeline, o BackendPrepareOptions) (err error) {
	// Create sink
	var e astipipeline.Element
	if e, err = p.Make(astipipeline.ElementKindFileSink, "sink"); err != nil {
		return
	}
	sink := e.(*astipipeline.FileSink)
	if err = sink.SetLocation(o.Path); err != nil {
		return
	}

	// Create muxer
	if e, err = p.Make(o.Format.muxerKind(), "muxer"); err != nil {
		return
	}
	mx := e.(*astipipeline.Muxer)
	if err = mx.Link(sink); err != nil {
		return
	}

	// Loop through tracks
	var counts [mediaTypeCount]int
	for _, t := range o.Tracks {
		f := t.Format()

		// Create source
		if e, err = p.Make(astipipeline.ElementKindAppSrc, fmt.Sprintf("src_%d", t.Index())); err != nil {
			return
		}
		src := e.(*astipipeline.Source)

		// Request pad
		padName := fmt.Sprintf("%s_%02d", t.MediaType(), counts[t.MediaType()])
		counts[t.MediaType()]++
		var pad *astipipeline.MuxerPad
		if pad, err = mx.RequestPad(padName, f.MimeType.codec()); err != nil {
			return
		}

		// Link
		if kind := parserFor(o.Format, f.MimeType); kind != "" {
			if e, err = p.Make(kind, fmt.Sprintf("parser_%d", t.Index())); err != nil {
				return
			}
			if err = src.Link(e.(astipipeline.Handler)); err != nil {
				return
			}
			if err = e.(astipipeline.Linker).Link(pad); err != nil {
				return
			}
		} else if err = src.Link(pad); err != nil {
			return
		}

		// Store endpoint
		b.endpoints[t.Index()] = &pipelineEndpoint{
			caps: f.caps(),
			src:  src,
		}
	}
	return
}

func (b *PipelineBackend) setState(s astipipeline.State) error {
	b.m.Lock()
	p := b.p
	b.m.Unlock()
	if p == nil {
		return newError(ErrorCodeInvalidOperation, nil, "pipeline is not prepared")
	}
	if err := p.SetState(s); err != nil {
		return newError(translateError(err), err, "setting pipeline to %s failed", s)
	}
	return nil
}

// Start implements the Backend interface
func (b *PipelineBackend) Start() error { return b.setState(astipipeline.StatePlaying) }

// Pause implements the Backend interface
func (b *PipelineBackend) Pause() error { return b.setState(astipipeline.StatePaused) }

// Resume implements the Backend interface
func (b *PipelineBackend) Resume() error { return b.setState(astipipeline.StatePlaying) }

// Stop implements the Backend interface. What was pushed is drained and the container is finalized.
func (b *PipelineBackend) Stop() error { return b.setState(astipipeline.StateReady) }

// State implements the Backend interface
func (b *PipelineBackend) State() BackendState {
	b.m.Lock()
	p := b.p
	b.m.Unlock()
	if p == nil {
		return BackendStateNull
	}
	switch p.State() {
	case astipipeline.StateReady:
		return BackendStateReady
	case astipipeline.StatePaused:
		return BackendStatePaused
	case astipipeline.StatePlaying:
		return BackendStatePlaying
	}
	return BackendStateNull
}

// Endpoint implements the Backend interface
func (b *PipelineBackend) Endpoint(index int) (Endpoint, error) {
	b.m.Lock()
	defer b.m.Unlock()
	e, ok := b.endpoints[index]
	if !ok || b.p == nil {
		return nil, newError(ErrorCodeInvalidOperation, nil, "no endpoint for track %d", index)
	}
	return e, nil
}

// Unprepare implements the Backend interface. The pipeline always reaches null and is released,
// the first element failing to get there is reported.
func (b *PipelineBackend) Unprepare() (err error) {
	// Lock
	b.m.Lock()
	p := b.p
	b.p = nil
	b.endpoints = make(map[int]*pipelineEndpoint)
	b.m.Unlock()

	// Not prepared
	if p == nil {
		return nil
	}

	// Close
	if err = p.Close(); err != nil {
		return newError(translateError(err), err, "closing pipeline failed")
	}
	return
}

type pipelineEndpoint struct {
	caps astipipeline.Caps
	src  *astipipeline.Source
}

// EndOfStream implements the Endpoint interface
func (e *pipelineEndpoint) EndOfStream() error { return e.src.EndOfStream() }

// Push implements the Endpoint interface
func (e *pipelineEndpoint) Push(b *astipipeline.Buffer) error { return e.src.Push(b) }

// SetCaps implements the Endpoint interface
func (e *pipelineEndpoint) SetCaps(codecData []byte) error {
	c := e.caps.Clone()
	c.CodecData = codecData
	return e.src.SetCaps(c)
}

// SetFeedHandlers implements the Endpoint interface
func (e *pipelineEndpoint) SetFeedHandlers(need, enough func()) {
	e.src.OnNeedData(need)
	e.src.OnEnoughData(enough)
}
