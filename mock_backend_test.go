package astimuxer

import (
	"sync"

	astipipeline "github.com/asticode/go-astimuxer/pipeline"
)

type mockBackend struct {
	calls     []string
	endpoints map[int]*mockEndpoint
	errs      map[string]error
	h         BackendMessageHandler
	m         *sync.Mutex
	s         BackendState
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		endpoints: make(map[int]*mockEndpoint),
		errs:      make(map[string]error),
		m:         &sync.Mutex{},
	}
}

func (b *mockBackend) call(name string) error {
	b.m.Lock()
	defer b.m.Unlock()
	b.calls = append(b.calls, name)
	return b.errs[name]
}

func (b *mockBackend) failOn(name string, err error) {
	b.m.Lock()
	defer b.m.Unlock()
	b.errs[name] = err
}

func (b *mockBackend) count(name string) (n int) {
	b.m.Lock()
	defer b.m.Unlock()
	for _, c := range b.calls {
		if c == name {
			n++
		}
	}
	return
}

func (b *mockBackend) endpoint(idx int) *mockEndpoint {
	b.m.Lock()
	defer b.m.Unlock()
	return b.endpoints[idx]
}

func (b *mockBackend) handler() BackendMessageHandler {
	b.m.Lock()
	defer b.m.Unlock()
	return b.h
}

func (b *mockBackend) setState(name string, s BackendState) error {
	if err := b.call(name); err != nil {
		return err
	}
	b.m.Lock()
	defer b.m.Unlock()
	b.s = s
	return nil
}

func (b *mockBackend) Name() string { return "mock" }

func (b *mockBackend) SetDataSink(string, ContainerFormat) error { return b.call("set_data_sink") }

func (b *mockBackend) AddTrack(*Track) error { return b.call("add_track") }

func (b *mockBackend) SetMessageHandler(h BackendMessageHandler) {
	b.m.Lock()
	defer b.m.Unlock()
	b.h = h
}

func (b *mockBackend) Prepare(o BackendPrepareOptions) error {
	if err := b.setState("prepare", BackendStateReady); err != nil {
		return err
	}
	b.m.Lock()
	defer b.m.Unlock()
	for _, t := range o.Tracks {
		b.endpoints[t.Index()] = &mockEndpoint{m: &sync.Mutex{}}
	}
	return nil
}

func (b *mockBackend) Start() error { return b.setState("start", BackendStatePlaying) }

func (b *mockBackend) Pause() error { return b.setState("pause", BackendStatePaused) }

func (b *mockBackend) Resume() error { return b.setState("resume", BackendStatePlaying) }

func (b *mockBackend) Stop() error { return b.setState("stop", BackendStateReady) }

func (b *mockBackend) Unprepare() error {
	if err := b.setState("unprepare", BackendStateNull); err != nil {
		return err
	}
	b.m.Lock()
	defer b.m.Unlock()
	b.endpoints = make(map[int]*mockEndpoint)
	return nil
}

func (b *mockBackend) State() BackendState {
	b.m.Lock()
	defer b.m.Unlock()
	return b.s
}

func (b *mockBackend) Endpoint(idx int) (Endpoint, error) {
	if err := b.call("endpoint"); err != nil {
		return nil, err
	}
	e := b.endpoint(idx)
	if e == nil {
		return nil, newError(ErrorCodeInvalidOperation, nil, "no endpoint for track %d", idx)
	}
	return e, nil
}

type mockEndpoint struct {
	caps    [][]byte
	enough  func()
	eos     int
	m       *sync.Mutex
	need    func()
	pushErr error
	pushes  []*astipipeline.Buffer
	// Push happened after EOS
	pushesAfterEOS int
}

func (e *mockEndpoint) EndOfStream() error {
	e.m.Lock()
	defer e.m.Unlock()
	e.eos++
	return nil
}

func (e *mockEndpoint) Push(b *astipipeline.Buffer) error {
	e.m.Lock()
	defer e.m.Unlock()
	if e.pushErr != nil {
		return e.pushErr
	}
	if e.eos > 0 {
		e.pushesAfterEOS++
	}
	e.pushes = append(e.pushes, b)
	return nil
}

func (e *mockEndpoint) SetCaps(codecData []byte) error {
	e.m.Lock()
	defer e.m.Unlock()
	e.caps = append(e.caps, codecData)
	return nil
}

func (e *mockEndpoint) SetFeedHandlers(need, enough func()) {
	e.m.Lock()
	defer e.m.Unlock()
	e.need = need
	e.enough = enough
}

func (e *mockEndpoint) signalEnough() {
	e.m.Lock()
	f := e.enough
	e.m.Unlock()
	f()
}

func (e *mockEndpoint) signalNeed() {
	e.m.Lock()
	f := e.need
	e.m.Unlock()
	f()
}

func (e *mockEndpoint) snapshot() (pushes []*astipipeline.Buffer, caps [][]byte, eos, afterEOS int) {
	e.m.Lock()
	defer e.m.Unlock()
	return append([]*astipipeline.Buffer{}, e.pushes...), append([][]byte{}, e.caps...), e.eos, e.pushesAfterEOS
}
