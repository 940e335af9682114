package astimuxer

import (
	"os"
	"testing"

	"github.com/asticode/go-astikit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaterHandle(t *testing.T) {
	eh := NewEventHandler()
	var es [][]EventStat
	eh.AddForEventName(EventNameStats, func(e Event) bool {
		es = append(es, e.Payload.([]EventStat))
		return false
	})
	s := NewStater(0, eh)
	tr := newTrack(2, MediaTypeAudio, MediaFormat{})
	host := &astikit.StatMetadata{Name: StatNameHost}
	bytes := &astikit.StatMetadata{Name: StatNameIncomingBytes}
	unknown := &astikit.StatMetadata{Name: "unknown"}
	s.AddStats(tr, astikit.StatOptions{Handler: astikit.NewCounterRateStat(), Metadata: bytes})
	s.AddStats(nil, astikit.StatOptions{Handler: newStatHost(int32(os.Getpid())), Metadata: host})

	// Stopped stats and unknown metadata are skipped, host stats come first
	s.handle([]astikit.StatValue{
		{StatMetadata: bytes, Value: 10.0},
		{StatMetadata: host, Value: StatHostValue{HostLoad: 1}},
		{StatMetadata: unknown, Value: 1.0},
	})
	s.handle([]astikit.StatValue{{StatMetadata: host}})
	require.Len(t, es, 1)
	require.Len(t, es[0], 2)
	assert.Equal(t, StatNameHost, es[0][0].Name)
	assert.Nil(t, es[0][0].Target)
	assert.Equal(t, StatNameIncomingBytes, es[0][1].Name)
	assert.Equal(t, tr, es[0][1].Target)

	// Deleted stats are skipped
	s.DelStats(tr, astikit.StatOptions{Metadata: bytes})
	s.handle([]astikit.StatValue{{StatMetadata: bytes, Value: 10.0}})
	assert.Len(t, es, 1)
}

func TestStatHost(t *testing.T) {
	s := newStatHost(int32(os.Getpid()))
	assert.Nil(t, s.Value(0))
	s.Start()
	v, ok := s.Value(0).(StatHostValue)
	require.True(t, ok)
	assert.NotZero(t, v.ProcessRSS)
	s.Stop()
	assert.Nil(t, s.Value(0))
}
