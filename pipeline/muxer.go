package astipipeline

import (
	"fmt"
	"io"
	"sync"
)

// containerWriter serializes pads into a container. Calls are serialized by the muxer.
type containerWriter interface {
	addPad(p *MuxerPad) error
	endPad(p *MuxerPad) error
	finalize() error
	reset(w io.WriteSeeker) error
	// resume continues a finalized container in w
	resume(w io.WriteSeeker) error
	setCaps(p *MuxerPad, c Caps) error
	writeBuffer(p *MuxerPad, b *Buffer) error
}

type containerWriterConstructor func(o Options) containerWriter

// Muxer interleaves its pads into a container written to a linked file sink
type Muxer struct {
	finalized bool
	m         *sync.Mutex // Locks everything
	md        ElementMetadata
	p         *Pipeline
	pads      []*MuxerPad
	sink      *FileSink
	state     State
	w         containerWriter
}

// MuxerPad is a muxer input
type MuxerPad struct {
	caps  *Caps
	codec Codec
	eos   bool
	index int
	m     *Muxer
	name  string
}

func newMuxerConstructor(c containerWriterConstructor) ElementConstructor {
	return func(p *Pipeline, md ElementMetadata) (Element, error) {
		md.Description = "Writes pads into a container"
		md.Label = fmt.Sprintf("Muxer %s", md.Name)
		return &Muxer{
			m:  &sync.Mutex{},
			md: md,
			p:  p,
			w:  c(p.o),
		}, nil
	}
}

// Metadata implements the Element interface
func (m *Muxer) Metadata() ElementMetadata { return m.md }

// Link sets the sink the container is written to
func (m *Muxer) Link(s *FileSink) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.sink != nil {
		return newCoreError(CoreErrorPad, "%s is already linked", m.md.Name)
	}
	m.sink = s
	return nil
}

// RequestPad creates a new pad accepting codec c
func (m *Muxer) RequestPad(name string, c Codec) (p *MuxerPad, err error) {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Pads can only be requested in the null state
	if m.state != StateNull {
		err = newCoreError(CoreErrorPad, "%s: requesting pad %s in state %s", m.md.Name, name, m.state)
		return
	}

	// Check name
	for _, v := range m.pads {
		if v.name == name {
			err = newCoreError(CoreErrorPad, "%s: pad %s already exists", m.md.Name, name)
			return
		}
	}

	// Create pad
	p = &MuxerPad{
		codec: c,
		index: len(m.pads),
		m:     m,
		name:  name,
	}

	// Add to writer
	if err = m.w.addPad(p); err != nil {
		p = nil
		return
	}
	m.pads = append(m.pads, p)
	return
}

// Pads returns the pad names
func (m *Muxer) Pads() (ns []string) {
	m.m.Lock()
	defer m.m.Unlock()
	for _, p := range m.pads {
		ns = append(ns, p.name)
	}
	return
}

// SetState implements the Element interface
func (m *Muxer) SetState(s State) (err error) {
	m.m.Lock()
	defer m.m.Unlock()
	from := m.state
	switch {
	case from == StateNull && s == StateReady:
		if m.sink == nil {
			return newCoreError(CoreErrorPad, "%s is not linked", m.md.Name)
		}
		if err = m.w.reset(m.sink); err != nil {
			return
		}
		m.finalized = false
		for _, p := range m.pads {
			p.caps = nil
			p.eos = false
		}
	case from == StateReady && s == StatePaused:
		if m.finalized && !m.ended() {
			if err = m.w.resume(m.sink); err != nil {
				return
			}
			m.finalized = false
		}
	case from == StatePaused && s == StateReady, from == StateReady && s == StateNull:
		err = m.finalize()
	}
	m.state = s
	return
}

func (m *Muxer) ended() bool {
	if len(m.pads) == 0 {
		return false
	}
	for _, p := range m.pads {
		if !p.eos {
			return false
		}
	}
	return true
}

func (m *Muxer) finalize() error {
	if m.finalized {
		return nil
	}
	m.finalized = true
	return m.w.finalize()
}

// Name returns the pad name
func (p *MuxerPad) Name() string { return p.name }

// Codec returns the pad codec
func (p *MuxerPad) Codec() Codec { return p.codec }

func (p *MuxerPad) check() error {
	if p.m.state == StateNull {
		return newStreamError(StreamErrorFlushing, "%s: %s is not ready", p.m.md.Name, p.name)
	} else if p.eos || p.m.finalized {
		return newStreamError(StreamErrorEOS, "%s: %s has already received EOS", p.m.md.Name, p.name)
	}
	return nil
}

// HandleCaps implements the Handler interface
func (p *MuxerPad) HandleCaps(c Caps) error {
	p.m.m.Lock()
	defer p.m.m.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	if c.Codec != "" && c.Codec != p.codec {
		return newCoreError(CoreErrorNegotiation, "%s: %s accepts %s, not %s", p.m.md.Name, p.name, p.codec, c.Codec)
	}
	c = c.Clone()
	c.Codec = p.codec
	if err := p.m.w.setCaps(p, c); err != nil {
		return err
	}
	p.caps = &c
	return nil
}

// HandleBuffer implements the Handler interface
func (p *MuxerPad) HandleBuffer(b *Buffer) error {
	p.m.m.Lock()
	defer p.m.m.Unlock()
	if err := p.check(); err != nil {
		return err
	}
	if p.caps == nil {
		return newCoreError(CoreErrorNegotiation, "%s: %s received a buffer before caps", p.m.md.Name, p.name)
	}
	return p.m.w.writeBuffer(p, b)
}

// HandleEOS implements the Handler interface
func (p *MuxerPad) HandleEOS() (err error) {
	// Lock
	p.m.m.Lock()
	if err = p.check(); err != nil {
		p.m.m.Unlock()
		return
	}

	// End pad
	p.eos = true
	if err = p.m.w.endPad(p); err != nil {
		p.m.m.Unlock()
		return
	}

	// Every pad is done
	if !p.m.ended() {
		p.m.m.Unlock()
		return
	}
	err = p.m.finalize()
	p.m.m.Unlock()
	if err != nil {
		return
	}
	p.m.p.muxerDone(p.m)
	return
}
