package astimuxer

import (
	"context"
	"sync"

	"github.com/asticode/go-astikit"
	"github.com/google/uuid"
)

// MuxerOptions represents muxer options
type MuxerOptions struct {
	// Overrides Configuration.Backend when set
	Backend Backend
	// Nil means DefaultConfiguration()
	Configuration *Configuration
	EventHandler  *EventHandler
	Logger        astikit.StdLogger
	// Per-track stats are added on prepare when set
	Stater *Stater
}

// Muxer writes tracks into a container file
type Muxer struct {
	b              Backend
	c              Configuration
	cl             *Closer
	d              *errorDispatcher
	eh             *EventHandler
	format         ContainerFormat
	id             string
	l              astikit.CompleteLogger
	m              *sync.Mutex // Serializes lifecycle calls
	path           string
	s              *Stater
	sinkConfigured bool
	sos            map[*Track][]astikit.StatOptions
	state          State
	tt             *trackTable
}

// New creates a new muxer in the idle state
func New(o MuxerOptions) (m *Muxer, err error) {
	// Get configuration
	c := DefaultConfiguration()
	if o.Configuration != nil {
		c = *o.Configuration
	}

	// Get backend
	b := o.Backend
	if b == nil {
		if b, err = newBackend(c.Backend, c, o); err != nil {
			return
		}
	}

	// Create muxer
	m = &Muxer{
		b:     b,
		c:     c,
		cl:    newCloser(),
		eh:    o.EventHandler,
		id:    uuid.NewString(),
		l:     astikit.AdaptStdLogger(o.Logger),
		m:     &sync.Mutex{},
		s:     o.Stater,
		sos:   make(map[*Track][]astikit.StatOptions),
		state: StateIdle,
		tt:    newTrackTable(),
	}
	if m.eh == nil {
		m.eh = NewEventHandler()
	}

	// Create error dispatcher
	m.d = newErrorDispatcher(m, m.eh, m.l)
	m.cl.Add(func() error {
		m.d.close()
		return nil
	})

	// Route backend errors
	b.SetMessageHandler(m.d.dispatch)
	return
}

// ID returns the muxer id
func (m *Muxer) ID() string { return m.id }

// Backend returns the muxer backend
func (m *Muxer) Backend() Backend { return m.b }

// State returns the muxer state
func (m *Muxer) State() State {
	m.m.Lock()
	defer m.m.Unlock()
	return m.state
}

// Format returns the container format, only meaningful once the data sink is set
func (m *Muxer) Format() ContainerFormat {
	m.m.Lock()
	defer m.m.Unlock()
	return m.format
}

// Path returns the output path, empty until the data sink is set
func (m *Muxer) Path() string {
	m.m.Lock()
	defer m.m.Unlock()
	return m.path
}

// Tracks returns a snapshot of the tracks in the order they were added
func (m *Muxer) Tracks() (is []TrackInfo) {
	for _, t := range m.tt.list() {
		is = append(is, t.info())
	}
	return
}

// Assumes the lock is held
func (m *Muxer) setState(s State) {
	if m.state == s {
		return
	}
	from := m.state
	m.state = s
	m.d.emit(Event{
		Name:    EventNameMuxerState,
		Payload: EventMuxerState{From: from, To: s},
		Target:  m,
	})
}

// SetDataSink sets where and in which format the container is written
func (m *Muxer) SetDataSink(path string, format ContainerFormat) (err error) {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if m.state != StateIdle {
		return errInvalidState("setting the data sink", m.state)
	} else if m.sinkConfigured {
		return newError(ErrorCodeInvalidOperation, nil, "data sink is already set to %s", m.path)
	}

	// Check parameters
	if path == "" {
		return newError(ErrorCodeInvalidPath, nil, "path is empty")
	} else if format.muxerKind() == "" {
		return newError(ErrorCodeInvalidParameter, nil, "invalid container format %d", format)
	}

	// Backend
	if err = m.b.SetDataSink(path, format); err != nil {
		m.sinkConfigured = false
		return newError(Code(err), err, "setting data sink %s failed", path)
	}

	// Store
	m.format = format
	m.path = path
	m.sinkConfigured = true
	return
}

// AddTrack adds a track and returns its index
func (m *Muxer) AddTrack(f MediaFormat) (index int, err error) {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if m.state != StateIdle {
		return -1, errInvalidState("adding a track", m.state)
	} else if !m.sinkConfigured {
		return -1, newError(ErrorCodeInvalidState, nil, "adding a track requires the data sink to be set")
	}

	// Add to table
	var t *Track
	if t, err = m.tt.add(m.format, f); err != nil {
		return -1, err
	}

	// Backend
	if err = m.b.AddTrack(t); err != nil {
		m.tt.remove(t)
		return -1, newError(Code(err), err, "adding track %d to backend failed", t.Index())
	}

	// Emit
	m.d.emit(Event{Name: EventNameTrackAdded, Target: t})
	return t.Index(), nil
}

// Prepare builds the backend pipeline
func (m *Muxer) Prepare() (err error) {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if m.state != StateIdle {
		return errInvalidState("preparing", m.state)
	} else if !m.sinkConfigured {
		return newError(ErrorCodeInvalidState, nil, "preparing requires the data sink to be set")
	} else if m.tt.len() == 0 {
		return newError(ErrorCodeInvalidState, nil, "preparing requires at least one track")
	}

	// Backend
	ts := m.tt.list()
	if err = m.b.Prepare(BackendPrepareOptions{
		Format: m.format,
		Path:   m.path,
		Tracks: ts,
	}); err != nil {
		return newError(ErrorCodeInvalidOperation, err, "preparing backend failed")
	}

	// Connect endpoints
	if err = m.connectEndpoints(ts); err != nil {
		for _, t := range ts {
			t.setEndpoint(nil)
		}
		if errU := m.b.Unprepare(); errU != nil {
			m.l.Errorf("astimuxer: unpreparing backend failed: %s", errU)
		}
		return
	}

	// Stats
	m.addStats(ts)

	// Update state
	m.setState(StateReady)
	return
}

func (m *Muxer) connectEndpoints(ts []*Track) (err error) {
	for _, t := range ts {
		// Get endpoint
		var e Endpoint
		if e, err = m.b.Endpoint(t.Index()); err != nil {
			return newError(ErrorCodeInvalidOperation, err, "getting endpoint of track %d failed", t.Index())
		}
		t.setEndpoint(e)

		// Track was closed before its endpoint existed
		if t.Closed() {
			if err = e.EndOfStream(); err != nil {
				return newError(ErrorCodeInvalidOperation, err, "sending EOS on track %d failed", t.Index())
			}
		}
	}
	return
}

func (m *Muxer) addStats(ts []*Track) {
	if m.s == nil {
		return
	}
	for _, t := range ts {
		os := t.stats()
		m.sos[t] = os
		m.s.AddStats(t, os...)
	}
}

func (m *Muxer) delStats() {
	for t, os := range m.sos {
		if m.s != nil {
			m.s.DelStats(t, os...)
		}
		delete(m.sos, t)
	}
}

// Start starts muxing
func (m *Muxer) Start() error {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if m.state != StateReady {
		return errInvalidState("starting", m.state)
	}
	return m.start()
}

// Assumes the lock is held
func (m *Muxer) start() error {
	if err := m.b.Start(); err != nil {
		return newError(ErrorCodeInvalidOperation, err, "starting backend failed")
	}
	m.setState(StateMuxing)
	return nil
}

// WriteSample writes s into the track with index idx. It blocks while the track has enough
// data queued unless writes are configured as non-blocking. The wait is bounded by ctx and
// by the configured write timeout.
func (m *Muxer) WriteSample(ctx context.Context, idx int, s *Sample) (err error) {
	// Check and get track
	var t *Track
	if t, err = m.writableTrack(idx, s); err != nil {
		return
	}

	// Serialize writes on the track
	t.wm.Lock()
	defer t.wm.Unlock()

	// Update caps
	if err = t.updateCaps(s.CodecData); err != nil {
		return
	}

	// Create buffer
	b := s.buffer()

	// Wait for the track to need data
	if !m.c.Write.NonBlocking {
		if m.c.Write.Timeout.Duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.c.Write.Timeout.Duration)
			defer cancel()
		}
		if err = t.g.wait(ctx); err != nil {
			return newError(ErrorCodeInvalidOperation, err, "waiting for track %d to need data failed", idx)
		}
	}

	// Push
	if err = t.push(b); err != nil {
		return
	}

	// Stats
	t.statIncomingRate.Add(1)
	t.statIncomingBytes.Add(float64(len(s.Data)))

	// End of stream
	if s.Flags&SampleFlagEndOfStream > 0 {
		if err = t.close(); err != nil {
			return
		}
		m.d.emit(Event{Name: EventNameTrackClosed, Target: t})
	}
	return
}

func (m *Muxer) writableTrack(idx int, s *Sample) (t *Track, err error) {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if !m.state.in(StateReady, StateMuxing) {
		return nil, errInvalidState("writing a sample", m.state)
	}

	// Check sample
	if s == nil {
		return nil, newError(ErrorCodeInvalidParameter, nil, "sample is nil")
	}

	// Get track
	if t, err = m.tt.find(idx); err != nil {
		return
	} else if t.Closed() {
		return nil, newError(ErrorCodeInvalidParameter, nil, "track %d is closed", idx)
	}

	// Check mime type
	if s.MimeType != "" {
		if !compatibleAny(m.format, s.MimeType) {
			return nil, newError(ErrorCodeNotSupported, nil, "%s can't be written in %s", s.MimeType, m.format)
		} else if mt := t.Format().MimeType; s.MimeType != mt {
			return nil, newError(ErrorCodeInvalidParameter, nil, "sample is %s but track %d is %s", s.MimeType, idx, mt)
		}
	}

	// First write starts the backend
	if m.state == StateReady {
		if err = m.start(); err != nil {
			return
		}
	}
	return
}

// CloseTrack sends end of stream on a track. A closed track can't be closed again.
func (m *Muxer) CloseTrack(idx int) (err error) {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if !m.state.in(StateIdle, StateReady, StateMuxing) {
		return errInvalidState("closing a track", m.state)
	}

	// Get track
	var t *Track
	if t, err = m.tt.find(idx); err != nil {
		return
	}

	// Close
	if err = t.close(); err != nil {
		return
	}
	m.d.emit(Event{Name: EventNameTrackClosed, Target: t})
	return
}

// Pause pauses muxing
func (m *Muxer) Pause() error {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if m.state != StateMuxing {
		return errInvalidState("pausing", m.state)
	} else if s := m.b.State(); s != BackendStatePlaying {
		return newError(ErrorCodeInvalidState, nil, "pausing requires the backend to be playing, it is %s", s)
	}

	// Backend
	if err := m.b.Pause(); err != nil {
		return newError(ErrorCodeInvalidOperation, err, "pausing backend failed")
	}
	m.setState(StatePaused)
	return nil
}

// Resume resumes muxing
func (m *Muxer) Resume() error {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if m.state != StatePaused {
		return errInvalidState("resuming", m.state)
	} else if s := m.b.State(); s != BackendStatePaused {
		return newError(ErrorCodeInvalidState, nil, "resuming requires the backend to be paused, it is %s", s)
	}

	// Backend
	if err := m.b.Resume(); err != nil {
		return newError(ErrorCodeInvalidOperation, err, "resuming backend failed")
	}
	m.setState(StateMuxing)
	return nil
}

// Stop drains what has been written and finalizes the container. Tracks are kept.
func (m *Muxer) Stop() error {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if !m.state.in(StateMuxing, StatePaused) {
		return errInvalidState("stopping", m.state)
	}

	// Backend
	if err := m.b.Stop(); err != nil {
		return newError(ErrorCodeInvalidOperation, err, "stopping backend failed")
	}
	m.setState(StateReady)
	return nil
}

// Unprepare tears the backend pipeline down and drops tracks and data sink
func (m *Muxer) Unprepare() error {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if !m.state.in(StateReady, StateMuxing, StatePaused) {
		return errInvalidState("unpreparing", m.state)
	}

	// Backend objects are released even when unpreparing fails
	var err error
	if errB := m.b.Unprepare(); errB != nil {
		err = newError(ErrorCodeInvalidOperation, errB, "unpreparing backend failed")
	}

	// Reset
	m.delStats()
	for _, t := range m.tt.list() {
		t.setEndpoint(nil)
	}
	m.tt.removeAll()
	m.format = 0
	m.path = ""
	m.sinkConfigured = false
	m.setState(StateIdle)
	return err
}

// Destroy releases the muxer. Every call but State fails afterwards.
func (m *Muxer) Destroy() error {
	// Lock
	m.m.Lock()
	defer m.m.Unlock()

	// Check state
	if m.state != StateIdle {
		return errInvalidState("destroying", m.state)
	}

	// Update state before the dispatcher is closed so that the event is delivered
	m.setState(StateNone)
	return m.cl.Close()
}

// SetErrorCallback sets the callback receiving asynchronous backend errors
func (m *Muxer) SetErrorCallback(cb ErrorCallback) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.state == StateNone {
		return errInvalidState("setting the error callback", m.state)
	}
	return m.d.set(cb)
}

// UnsetErrorCallback removes the error callback
func (m *Muxer) UnsetErrorCallback() error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.state == StateNone {
		return errInvalidState("unsetting the error callback", m.state)
	}
	return m.d.unset()
}
