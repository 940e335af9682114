package astimuxer

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/asticode/go-astikit"
	astipipeline "github.com/asticode/go-astimuxer/pipeline"
)

// Track represents a stream written into the container
type Track struct {
	caps              []byte
	closed            bool
	endpoint          Endpoint
	format            MediaFormat
	g                 *feedGate
	index             int
	m                 *sync.Mutex // Locks caps, closed, endpoint and format
	mediaType         MediaType
	statIncomingBytes *astikit.CounterRateStat
	statIncomingRate  *astikit.CounterRateStat
	wm                *sync.Mutex // Serializes writes
}

func newTrack(index int, t MediaType, f MediaFormat) *Track {
	return &Track{
		format:            f.Clone(),
		g:                 newFeedGate(),
		index:             index,
		m:                 &sync.Mutex{},
		mediaType:         t,
		statIncomingBytes: astikit.NewCounterRateStat(),
		statIncomingRate:  astikit.NewCounterRateStat(),
		wm:                &sync.Mutex{},
	}
}

// Index returns the track index
func (t *Track) Index() int { return t.index }

// MediaType returns the track media type
func (t *Track) MediaType() MediaType { return t.mediaType }

// Format returns a copy of the track format
func (t *Track) Format() MediaFormat {
	t.m.Lock()
	defer t.m.Unlock()
	return t.format.Clone()
}

// Caps returns a copy of the last codec data written, nil if none
func (t *Track) Caps() []byte {
	t.m.Lock()
	defer t.m.Unlock()
	if t.caps == nil {
		return nil
	}
	return append([]byte{}, t.caps...)
}

// Closed returns whether the track has been closed
func (t *Track) Closed() bool {
	t.m.Lock()
	defer t.m.Unlock()
	return t.closed
}

func (t *Track) stats() []astikit.StatOptions {
	return []astikit.StatOptions{
		{
			Handler: t.statIncomingRate,
			Metadata: &astikit.StatMetadata{
				Description: "Number of samples coming in per second",
				Label:       fmt.Sprintf("Incoming rate #%d", t.index),
				Name:        StatNameIncomingSamples,
				Unit:        "sps",
			},
		},
		{
			Handler: t.statIncomingBytes,
			Metadata: &astikit.StatMetadata{
				Description: "Number of bytes coming in per second",
				Label:       fmt.Sprintf("Incoming bytes #%d", t.index),
				Name:        StatNameIncomingBytes,
				Unit:        "Bps",
			},
		},
	}
}

func (t *Track) setEndpoint(e Endpoint) {
	t.m.Lock()
	defer t.m.Unlock()
	t.endpoint = e
	if e != nil {
		e.SetFeedHandlers(t.g.open, t.g.close)
	}
}

// close marks the track as closed and sends EOS downstream if possible
func (t *Track) close() (err error) {
	t.m.Lock()
	defer t.m.Unlock()
	if t.closed {
		return newError(ErrorCodeInvalidParameter, nil, "track %d is already closed", t.index)
	}
	t.closed = true
	t.caps = nil
	if t.endpoint != nil {
		if err = t.endpoint.EndOfStream(); err != nil {
			err = newError(ErrorCodeInvalidOperation, err, "sending EOS on track %d failed", t.index)
		}
	}
	return
}

// push forwards b to the endpoint unless the track is closed
func (t *Track) push(b *astipipeline.Buffer) error {
	t.m.Lock()
	defer t.m.Unlock()
	if t.closed {
		return newError(ErrorCodeInvalidParameter, nil, "track %d is closed", t.index)
	} else if t.endpoint == nil {
		return newError(ErrorCodeInvalidOperation, nil, "track %d has no endpoint", t.index)
	}
	if err := t.endpoint.Push(b); err != nil {
		return newError(ErrorCodeInvalidOperation, err, "pushing to track %d failed", t.index)
	}
	return nil
}

// updateCaps reconfigures the endpoint when codec data changed
func (t *Track) updateCaps(codecData []byte) error {
	t.m.Lock()
	defer t.m.Unlock()
	if codecData == nil || (t.caps != nil && bytes.Equal(t.caps, codecData)) {
		return nil
	} else if t.endpoint == nil {
		return newError(ErrorCodeInvalidOperation, nil, "track %d has no endpoint", t.index)
	}
	if err := t.endpoint.SetCaps(codecData); err != nil {
		return newError(ErrorCodeInvalidOperation, err, "setting caps on track %d failed", t.index)
	}
	t.caps = append([]byte{}, codecData...)
	return nil
}

// TrackInfo is a snapshot of a track
type TrackInfo struct {
	Closed    bool        `json:"closed"`
	Index     int         `json:"index"`
	MediaType MediaType   `json:"media_type"`
	MimeType  MimeType    `json:"mime_type"`
	Format    MediaFormat `json:"-"`
}

func (t *Track) info() TrackInfo {
	t.m.Lock()
	defer t.m.Unlock()
	return TrackInfo{
		Closed:    t.closed,
		Format:    t.format.Clone(),
		Index:     t.index,
		MediaType: t.mediaType,
		MimeType:  t.format.MimeType,
	}
}

// trackTable holds tracks in insertion order
type trackTable struct {
	counts [mediaTypeCount]int
	m      *sync.Mutex // Locks counts and ts
	ts     []*Track
}

func newTrackTable() *trackTable {
	return &trackTable{m: &sync.Mutex{}}
}

// add classifies f, checks it can be written in container cf and creates the track
func (tt *trackTable) add(cf ContainerFormat, f MediaFormat) (t *Track, err error) {
	// Classify
	var mt MediaType
	if mt, err = f.mediaType(); err != nil {
		return
	}

	// Check compatibility
	if !Compatible(cf, mt, f.MimeType) {
		err = newError(ErrorCodeNotSupported, nil, "%s %s can't be written in %s", mt, f.MimeType, cf)
		return
	}

	// Lock
	tt.m.Lock()
	defer tt.m.Unlock()

	// Create track
	t = newTrack(int(mt)+mediaTypeCount*tt.counts[mt], mt, f)
	tt.counts[mt]++
	tt.ts = append(tt.ts, t)
	return
}

// find returns the track with index i
func (tt *trackTable) find(i int) (*Track, error) {
	tt.m.Lock()
	defer tt.m.Unlock()
	for _, t := range tt.ts {
		if t.index == i {
			return t, nil
		}
	}
	return nil, newError(ErrorCodeInvalidParameter, nil, "no track with index %d", i)
}

// remove drops t, used to roll back the last add
func (tt *trackTable) remove(t *Track) {
	tt.m.Lock()
	defer tt.m.Unlock()
	for i, v := range tt.ts {
		if v == t {
			tt.ts = append(tt.ts[:i], tt.ts[i+1:]...)
			tt.counts[t.mediaType]--
			return
		}
	}
}

func (tt *trackTable) removeAll() {
	tt.m.Lock()
	defer tt.m.Unlock()
	tt.counts = [mediaTypeCount]int{}
	tt.ts = nil
}

func (tt *trackTable) list() []*Track {
	tt.m.Lock()
	defer tt.m.Unlock()
	return append([]*Track{}, tt.ts...)
}

func (tt *trackTable) len() int {
	tt.m.Lock()
	defer tt.m.Unlock()
	return len(tt.ts)
}
