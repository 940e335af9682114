package astimuxer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerMuxers(t *testing.T) {
	s := NewServer(nil)
	m, _ := newTestMuxer(t, nil)
	require.NoError(t, m.SetDataSink("out.mp4", ContainerFormatMP4))
	_, err := m.AddTrack(testAudioFormat())
	require.NoError(t, err)
	s.AddMuxer(m)
	h := s.Handler()

	// Ok
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// List
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/muxers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ms []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ms))
	require.Len(t, ms, 1)
	assert.Equal(t, m.ID(), ms[0]["id"])
	assert.Equal(t, "idle", ms[0]["state"])
	assert.Equal(t, "mp4", ms[0]["format"])

	// One
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/muxers/"+m.ID(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sm struct {
		Tracks []struct {
			Index     int    `json:"index"`
			MediaType string `json:"media_type"`
			MimeType  string `json:"mime_type"`
		} `json:"tracks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sm))
	require.Len(t, sm.Tracks, 1)
	assert.Equal(t, 1, sm.Tracks[0].Index)
	assert.Equal(t, "audio", sm.Tracks[0].MediaType)
	assert.Equal(t, string(MimeTypeAACLC), sm.Tracks[0].MimeType)

	// Unknown
	s.DelMuxer(m)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/muxers/"+m.ID(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerRecording(t *testing.T) {
	s := NewServer(nil)
	eh := NewEventHandler()
	s.EventHandlerAdapter(eh)
	path := filepath.Join(t.TempDir(), "recording.csv")
	done := make(chan string, 1)
	require.NoError(t, s.StartRecording(path, func(p string) error {
		done <- p
		return nil
	}))
	eh.Emit(EventError(nil, errors.New("test")))
	eh.Emit(Event{Name: EventNameMuxerState, Payload: EventMuxerState{From: StateIdle, To: StateReady}})
	s.StopRecording()
	select {
	case p := <-done:
		assert.Equal(t, path, p)
	case <-time.After(time.Second):
		t.Fatal("recording not done")
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rs, 3)
	assert.Equal(t, "[]", rs[0][2])
	assert.Equal(t, string(EventNameError), rs[1][1])
	assert.Equal(t, `"test"`, rs[1][2])
	assert.Equal(t, string(EventNameMuxerState), rs[2][1])
	assert.JSONEq(t, `{"from":"idle","id":"","to":"ready"}`, rs[2][2])
}

func TestServerWebSocket(t *testing.T) {
	s := NewServer(nil)
	eh := NewEventHandler()
	s.EventHandlerAdapter(eh)
	hs := httptest.NewServer(s.Handler())
	defer hs.Close()

	// Connect
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/websocket", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.webSocketClients() == 1 }, time.Second, 5*time.Millisecond)

	// Broadcast
	eh.Emit(Event{Name: EventNameMuxerState, Payload: EventMuxerState{From: StateIdle, To: StateReady}})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var m struct {
		EventName string          `json:"event_name"`
		Payload   json.RawMessage `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, string(EventNameMuxerState), m.EventName)
	assert.JSONEq(t, `{"from":"idle","id":"","to":"ready"}`, string(m.Payload))

	// Disconnect
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.webSocketClients() == 0 }, time.Second, 5*time.Millisecond)
}
