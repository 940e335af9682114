package astipipeline

import (
	"fmt"
	"sync"
)

type parserBase struct {
	downstream Handler
	m          *sync.Mutex // Locks downstream and state
	md         ElementMetadata
	state      State
}

func newParserBase(md ElementMetadata, description string) *parserBase {
	md.Description = description
	md.Label = fmt.Sprintf("Parser %s", md.Name)
	return &parserBase{
		m:  &sync.Mutex{},
		md: md,
	}
}

// Metadata implements the Element interface
func (p *parserBase) Metadata() ElementMetadata { return p.md }

// Link implements the Linker interface
func (p *parserBase) Link(h Handler) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.downstream != nil {
		return newCoreError(CoreErrorPad, "%s is already linked", p.md.Name)
	}
	p.downstream = h
	return nil
}

// SetState implements the Element interface
func (p *parserBase) SetState(s State) error {
	p.m.Lock()
	defer p.m.Unlock()
	if p.state == StateNull && s == StateReady && p.downstream == nil {
		return newCoreError(CoreErrorPad, "%s is not linked", p.md.Name)
	}
	p.state = s
	return nil
}

func (p *parserBase) next() Handler {
	p.m.Lock()
	defer p.m.Unlock()
	return p.downstream
}

// HandleEOS implements the Handler interface
func (p *parserBase) HandleEOS() error { return p.next().HandleEOS() }

// passthroughParser forwards everything untouched
type passthroughParser struct {
	*parserBase
}

func newH263Parser(p *Pipeline, md ElementMetadata) (Element, error) {
	return &passthroughParser{parserBase: newParserBase(md, "Forwards H.263 pictures")}, nil
}

// HandleCaps implements the Handler interface
func (p *passthroughParser) HandleCaps(c Caps) error { return p.next().HandleCaps(c) }

// HandleBuffer implements the Handler interface
func (p *passthroughParser) HandleBuffer(b *Buffer) error { return p.next().HandleBuffer(b) }
