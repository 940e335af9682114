package astimuxer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astiws"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Server exposes muxers and their events over HTTP
type Server struct {
	cs map[*astiws.Client]bool
	l  astikit.SeverityLogger
	m  *sync.Mutex // Locks ms
	mc *sync.Mutex // Locks cs
	ms map[string]*Muxer
	r  *serverRecording
	ws *astiws.Manager
}

// NewServer creates a new server
func NewServer(l astikit.StdLogger) (s *Server) {
	s = &Server{
		cs: make(map[*astiws.Client]bool),
		l:  astikit.AdaptStdLogger(l),
		m:  &sync.Mutex{},
		mc: &sync.Mutex{},
		ms: make(map[string]*Muxer),
		ws: astiws.NewManager(astiws.ManagerConfiguration{MaxMessageSize: 8192}, l),
	}
	s.r = newServerRecording(s.l)
	return
}

// AddMuxer makes m available through the muxer routes
func (s *Server) AddMuxer(m *Muxer) {
	s.m.Lock()
	defer s.m.Unlock()
	s.ms[m.ID()] = m
}

// DelMuxer removes m from the muxer routes
func (s *Server) DelMuxer(m *Muxer) {
	s.m.Lock()
	defer s.m.Unlock()
	delete(s.ms, m.ID())
}

// Handler returns the server handler
func (s *Server) Handler() http.Handler {
	// Create router
	r := httprouter.New()

	// Add routes
	r.Handler(http.MethodGet, "/ok", s.serveOK())
	r.Handler(http.MethodGet, "/muxers", s.serveMuxers())
	r.GET("/muxers/:id", s.serveMuxer)
	r.Handler(http.MethodGet, "/recording/export", s.serveRecordingExport())
	r.Handler(http.MethodGet, "/recording/start", s.serveRecordingStart())
	r.Handler(http.MethodGet, "/recording/stop", s.serveRecordingStop())
	r.Handler(http.MethodGet, "/websocket", s.serveWebSocket())
	return r
}

func (s *Server) serveOK() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {})
}

// ServerMuxer represents a muxer as exposed by the server
type ServerMuxer struct {
	Format ContainerFormat `json:"format"`
	ID     string          `json:"id"`
	Path   string          `json:"path"`
	State  State           `json:"state"`
	Tracks []TrackInfo     `json:"tracks"`
}

func newServerMuxer(m *Muxer) ServerMuxer {
	ts := m.Tracks()
	if ts == nil {
		ts = []TrackInfo{}
	}
	return ServerMuxer{
		Format: m.Format(),
		ID:     m.ID(),
		Path:   m.Path(),
		State:  m.State(),
		Tracks: ts,
	}
}

func (s *Server) writeJSON(rw http.ResponseWriter, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		s.l.Error(fmt.Errorf("astimuxer: writing failed: %w", err))
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
}

func (s *Server) serveMuxers() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		// Get muxers
		s.m.Lock()
		ms := []ServerMuxer{}
		for _, m := range s.ms {
			ms = append(ms, newServerMuxer(m))
		}
		s.m.Unlock()

		// Sort
		sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })

		// Write
		s.writeJSON(rw, ms)
	})
}

func (s *Server) serveMuxer(rw http.ResponseWriter, r *http.Request, p httprouter.Params) {
	// Get muxer
	s.m.Lock()
	m, ok := s.ms[p.ByName("id")]
	s.m.Unlock()

	// Not found
	if !ok {
		rw.WriteHeader(http.StatusNotFound)
		return
	}

	// Write
	s.writeJSON(rw, newServerMuxer(m))
}

func (s *Server) serveWebSocket() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := s.ws.ServeHTTP(rw, r, s.adaptWebSocketClient); err != nil {
			var e *websocket.CloseError
			if ok := errors.As(err, &e); !ok ||
				(e.Code != websocket.CloseNoStatusReceived && e.Code != websocket.CloseNormalClosure) {
				s.l.Error(fmt.Errorf("astimuxer: handling websocket failed: %w", err))
			}
			return
		}
	})
}

func (s *Server) adaptWebSocketClient(c *astiws.Client) (err error) {
	// Register client
	s.mc.Lock()
	s.cs[c] = true
	s.mc.Unlock()

	// Add listeners
	c.AddListener(astiws.EventNameDisconnect, s.webSocketDisconnected)
	c.AddListener("ping", s.webSocketPing)
	return
}

func (s *Server) webSocketDisconnected(c *astiws.Client, eventName string, payload json.RawMessage) error {
	s.mc.Lock()
	delete(s.cs, c)
	s.mc.Unlock()
	return nil
}

func (s *Server) webSocketPing(c *astiws.Client, eventName string, payload json.RawMessage) error {
	if err := c.ExtendConnection(); err != nil {
		s.l.Error(fmt.Errorf("astimuxer: extending ws connection failed: %w", err))
	}
	return nil
}

func (s *Server) sendWebSocket(eventName string, payload interface{}) {
	// Get clients
	s.mc.Lock()
	cs := make([]*astiws.Client, 0, len(s.cs))
	for c := range s.cs {
		cs = append(cs, c)
	}
	s.mc.Unlock()

	// Write
	for _, c := range cs {
		if err := c.Write(eventName, payload); err != nil {
			s.l.Error(fmt.Errorf("astimuxer: writing event %s to websocket client %p failed: %w", eventName, c, err))
			continue
		}
	}
}

func (s *Server) webSocketClients() int {
	s.mc.Lock()
	defer s.mc.Unlock()
	return len(s.cs)
}

// ServerMuxerState is the payload of a muxer state event as exposed by the server
type ServerMuxerState struct {
	From State  `json:"from"`
	ID   string `json:"id"`
	To   State  `json:"to"`
}

// ServerStats is the payload of a stats event as exposed by the server
type ServerStats struct {
	Stats []ServerStat `json:"stats"`
}

// ServerStat represents a stat as exposed by the server
type ServerStat struct {
	Description string      `json:"description"`
	Label       string      `json:"label"`
	Name        string      `json:"name"`
	Target      string      `json:"target,omitempty"`
	Unit        string      `json:"unit"`
	Value       interface{} `json:"value"`
}

func newServerStats(e Event) (s ServerStats) {
	s.Stats = []ServerStat{}
	for _, es := range e.Payload.([]EventStat) {
		s.Stats = append(s.Stats, ServerStat{
			Description: es.Description,
			Label:       es.Label,
			Name:        es.Name,
			Target:      eventTargetName(es.Target),
			Unit:        es.Unit,
			Value:       es.Value,
		})
	}
	return
}

func serverEventPayload(e Event) (p interface{}) {
	switch e.Name {
	case EventNameError:
		p = astikit.ErrorCause(e.Payload.(error)).Error()
	case EventNameMuxerState:
		v := e.Payload.(EventMuxerState)
		p = ServerMuxerState{
			From: v.From,
			ID:   eventTargetName(e.Target),
			To:   v.To,
		}
	case EventNameStats:
		p = newServerStats(e)
	case EventNameTrackAdded, EventNameTrackClosed:
		p = e.Target.(*Track).info()
	}
	return
}

// EventHandlerAdapter forwards every event to websocket clients and to the recording
func (s *Server) EventHandlerAdapter(eh *EventHandler) {
	eh.AddForAll(func(e Event) bool {
		// Get payload
		p := serverEventPayload(e)

		// Add to recording
		if err := s.r.add(string(e.Name), p); err != nil {
			s.l.Error(fmt.Errorf("astimuxer: adding to recording failed: %w", err))
		}

		// Send
		s.sendWebSocket(string(e.Name), p)
		return false
	})
}

// serverRecording writes events to a CSV file
type serverRecording struct {
	c      *astikit.Chan
	cancel context.CancelFunc
	l      astikit.SeverityLogger
	m      *sync.Mutex // Locks path and w
	path   string
	s      uint32
	w      *csv.Writer
}

func newServerRecording(l astikit.SeverityLogger) *serverRecording {
	return &serverRecording{
		c: astikit.NewChan(astikit.ChanOptions{ProcessAll: true}),
		l: l,
		m: &sync.Mutex{},
	}
}

func (s *Server) serveRecordingStart() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := s.StartRecording("", nil); err != nil {
			s.l.Error(err)
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
	})
}

// StartRecording starts recording events to dst, or to a temp file when dst is empty.
// onDone is called with the file path once the recording is stopped.
func (s *Server) StartRecording(dst string, onDone func(path string) error) (err error) {
	// Get muxers
	s.m.Lock()
	ms := []ServerMuxer{}
	for _, m := range s.ms {
		ms = append(ms, newServerMuxer(m))
	}
	s.m.Unlock()

	// Start
	if err = s.r.start(dst, ms, onDone); err != nil {
		err = fmt.Errorf("astimuxer: starting recording failed: %w", err)
		return
	}
	return
}

func (r *serverRecording) start(dst string, ms []ServerMuxer, onDone func(path string) error) (err error) {
	// Recording already started
	if atomic.LoadUint32(&r.s) > 0 {
		return
	}

	// Create destination
	var f *os.File
	if dst != "" {
		if f, err = os.Create(dst); err != nil {
			err = fmt.Errorf("astimuxer: creating %s failed: %w", dst, err)
			return
		}
	} else if f, err = os.CreateTemp("", "astimuxer*.csv"); err != nil {
		err = fmt.Errorf("astimuxer: creating temp file failed: %w", err)
		return
	}

	// Marshal muxers
	var b []byte
	if b, err = json.Marshal(ms); err != nil {
		f.Close()
		err = fmt.Errorf("astimuxer: marshaling failed: %w", err)
		return
	}

	// Write muxers
	r.m.Lock()
	r.path = f.Name()
	r.w = csv.NewWriter(f)
	err = r.w.Write([]string{"", "", string(b)})
	r.m.Unlock()
	if err != nil {
		f.Close()
		err = fmt.Errorf("astimuxer: writing failed: %w", err)
		return
	}

	// Execute the rest in a goroutine
	var ctx context.Context
	ctx, r.cancel = context.WithCancel(context.Background())
	go func() {
		// Start chan
		r.c.Start(ctx)

		// Reset chan
		r.c.Reset()

		// Flush csv
		r.m.Lock()
		r.w.Flush()
		r.w = nil
		path := r.path
		r.m.Unlock()

		// Close file
		if err := f.Close(); err != nil {
			r.l.Error(fmt.Errorf("astimuxer: closing file failed: %w", err))
			return
		}

		// On done
		if onDone != nil {
			if err := onDone(path); err != nil {
				r.l.Error(fmt.Errorf("astimuxer: on done failed: %w", err))
				return
			}
		}
	}()

	// Update started
	atomic.StoreUint32(&r.s, 1)
	return
}

func (r *serverRecording) add(name string, payload interface{}) (err error) {
	// Recording not started
	if atomic.LoadUint32(&r.s) == 0 {
		return
	}

	// Marshal payload
	var b []byte
	if b, err = json.Marshal(payload); err != nil {
		err = fmt.Errorf("astimuxer: marshaling failed: %w", err)
		return
	}

	// Write
	r.c.Add(func() {
		r.m.Lock()
		defer r.m.Unlock()
		if r.w == nil {
			return
		}
		if err := r.w.Write([]string{strconv.Itoa(int(time.Now().UTC().Unix())), name, string(b)}); err != nil {
			r.l.Error(fmt.Errorf("astimuxer: writing failed: %w", err))
			return
		}
		r.w.Flush()
	})
	return
}

func (s *Server) serveRecordingStop() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		s.StopRecording()
	})
}

// StopRecording stops the recording
func (s *Server) StopRecording() {
	s.r.stop()
}

func (r *serverRecording) stop() {
	// Recording not started
	if !atomic.CompareAndSwapUint32(&r.s, 1, 0) {
		return
	}

	// Stop chan
	r.cancel()
	r.c.Stop()
}

func (s *Server) serveRecordingExport() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := s.r.export(rw); err != nil {
			s.l.Error(fmt.Errorf("astimuxer: exporting recording failed: %w", err))
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
	})
}

func (r *serverRecording) export(rw http.ResponseWriter) (err error) {
	// Get path
	r.m.Lock()
	path := r.path
	done := r.w == nil
	if done {
		r.path = ""
	}
	r.m.Unlock()

	// No path or still recording
	if path == "" || !done {
		rw.WriteHeader(http.StatusNoContent)
		return
	}

	// Open file
	var f *os.File
	if f, err = os.Open(path); err != nil {
		err = fmt.Errorf("astimuxer: opening %s failed: %w", path, err)
		return
	}

	// Stat
	var fi os.FileInfo
	if fi, err = f.Stat(); err != nil {
		f.Close()
		err = fmt.Errorf("astimuxer: stating %s failed: %w", path, err)
		return
	}

	// Set headers
	rw.Header().Set("Content-Type", "text/csv")
	rw.Header().Set("Content-Length", strconv.Itoa(int(fi.Size())))
	rw.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base("astimuxer-"+time.Now().UTC().Format("2006_01_02_15_04_05.csv")))

	// Copy
	if _, err = io.Copy(rw, f); err != nil {
		f.Close()
		err = fmt.Errorf("astimuxer: copying failed: %w", err)
		return
	}

	// Close
	if err = f.Close(); err != nil {
		err = fmt.Errorf("astimuxer: closing failed: %w", err)
		return
	}

	// Remove
	if err = os.Remove(path); err != nil {
		err = fmt.Errorf("astimuxer: removing %s failed: %w", path, err)
		return
	}
	return
}
