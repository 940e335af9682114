package astimuxer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gomp4 "github.com/abema/go-mp4"
	astipipeline "github.com/asticode/go-astimuxer/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	testPPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
)

func annexB(nalus ...[]byte) (o []byte) {
	for _, n := range nalus {
		o = append(o, 0, 0, 0, 1)
		o = append(o, n...)
	}
	return
}

func TestPipelineBackendSetDataSink(t *testing.T) {
	b := newPipelineBackend(DefaultConfiguration().Pipeline, nil)
	dir := t.TempDir()

	// Created file is removed
	path := filepath.Join(dir, "out.mp4")
	require.NoError(t, b.SetDataSink(path, ContainerFormatMP4))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Existing file is kept
	require.NoError(t, os.WriteFile(path, []byte("test"), 0644))
	require.NoError(t, b.SetDataSink(path, ContainerFormatMP4))
	c, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test", string(c))

	// Invalid paths
	assert.Equal(t, ErrorCodeInvalidPath, Code(b.SetDataSink("", ContainerFormatMP4)))
	assert.Equal(t, ErrorCodeInvalidPath, Code(b.SetDataSink(dir, ContainerFormatMP4)))
	assert.Equal(t, ErrorCodeInvalidPath, Code(b.SetDataSink(filepath.Join(dir, "missing", "out.mp4"), ContainerFormatMP4)))
	assert.Equal(t, ErrorCodeInvalidParameter, Code(b.SetDataSink(path, ContainerFormatUnknown)))

	// Not writable
	if os.Geteuid() == 0 {
		return
	}
	ro := filepath.Join(dir, "ro")
	require.NoError(t, os.Mkdir(ro, 0500))
	assert.Equal(t, ErrorCodePermissionDenied, Code(b.SetDataSink(filepath.Join(ro, "out.mp4"), ContainerFormatMP4)))
}

func TestPipelineBackendMissingPlugin(t *testing.T) {
	f := astipipeline.NewFactory()
	f.Unregister(astipipeline.ElementKindMP4Mux)
	m, err := New(MuxerOptions{Backend: NewPipelineBackend(DefaultConfiguration().Pipeline, f, nil)})
	require.NoError(t, err)
	require.NoError(t, m.SetDataSink(filepath.Join(t.TempDir(), "out.mp4"), ContainerFormatMP4))
	_, err = m.AddTrack(testVideoFormat())
	require.NoError(t, err)
	err = m.Prepare()
	assert.Equal(t, ErrorCodeInvalidOperation, Code(err))
	assert.ErrorIs(t, err, ErrResourceLimit)
	assert.Equal(t, StateIdle, m.State())
	require.NoError(t, m.Destroy())
}

func TestPipelineBackend3GPPCodecs(t *testing.T) {
	ctx := context.Background()
	frame := make([]byte, 32)
	frame[0] = 7 << 3
	for _, v := range []struct {
		entry  gomp4.BoxType
		format ContainerFormat
		mf     MediaFormat
		sample func(i int) *Sample
	}{
		{
			entry:  gomp4.StrToBoxType("s263"),
			format: ContainerFormatMP4,
			mf:     MediaFormat{MimeType: MimeTypeH263, Video: &VideoInfo{FrameRate: 25, Height: 144, Width: 176}},
			sample: func(i int) *Sample {
				s := &Sample{Data: []byte{0, 0, 0x80, 0x02, byte(i)}, PTS: time.Duration(i) * 40 * time.Millisecond}
				if i == 0 {
					s.Flags = SampleFlagKeyFrame
				}
				return s
			},
		},
		{
			entry:  gomp4.StrToBoxType("samr"),
			format: ContainerFormat3GP,
			mf:     MediaFormat{Audio: &AudioInfo{Channels: 1, SampleRate: 8000}, MimeType: MimeTypeAMRNB},
			sample: func(i int) *Sample {
				return &Sample{Data: frame, PTS: time.Duration(i) * 20 * time.Millisecond}
			},
		},
	} {
		t.Run(v.format.String(), func(t *testing.T) {
			// Mux
			path := filepath.Join(t.TempDir(), "out")
			m, err := New(MuxerOptions{})
			require.NoError(t, err)
			errs := make(chan error, 10)
			require.NoError(t, m.SetErrorCallback(func(_ ErrorCode, err error) { errs <- err }))
			require.NoError(t, m.SetDataSink(path, v.format))
			idx, err := m.AddTrack(v.mf)
			require.NoError(t, err)
			require.NoError(t, m.Prepare())
			for i := 0; i < 3; i++ {
				require.NoError(t, m.WriteSample(ctx, idx, v.sample(i)))
			}
			require.NoError(t, m.CloseTrack(idx))
			require.NoError(t, m.Stop())
			require.NoError(t, m.Unprepare())
			require.NoError(t, m.Destroy())
			assert.Empty(t, errs)

			// Check sample entry
			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()
			bs, err := gomp4.ExtractBox(f, nil, gomp4.BoxPath{
				gomp4.BoxTypeMoov(),
				gomp4.BoxTypeTrak(),
				gomp4.BoxTypeMdia(),
				gomp4.BoxTypeMinf(),
				gomp4.BoxTypeStbl(),
				gomp4.BoxTypeStsd(),
				v.entry,
			})
			require.NoError(t, err)
			assert.Len(t, bs, 1)
		})
	}
}

// Stop then Start keeps writing the same container
func TestPipelineBackendRestart(t *testing.T) {
	// Create
	path := filepath.Join(t.TempDir(), "out.mp4")
	m, err := New(MuxerOptions{})
	require.NoError(t, err)
	errs := make(chan error, 10)
	require.NoError(t, m.SetErrorCallback(func(_ ErrorCode, err error) { errs <- err }))
	require.NoError(t, m.SetDataSink(path, ContainerFormatMP4))
	a, err := m.AddTrack(testAudioFormat())
	require.NoError(t, err)
	require.NoError(t, m.Prepare())

	// Write across a stop
	ctx := context.Background()
	write := func(from, to int) {
		for i := from; i < to; i++ {
			require.NoError(t, m.WriteSample(ctx, a, &Sample{
				Data: []byte{0x21, 0x10, byte(i)},
				PTS:  time.Duration(i) * 1024 * time.Second / 44100,
			}))
		}
	}
	require.NoError(t, m.Start())
	write(0, 3)
	require.NoError(t, m.Stop())
	assert.Equal(t, StateReady, m.State())
	require.NoError(t, m.Start())
	write(3, 6)
	require.NoError(t, m.CloseTrack(a))
	require.NoError(t, m.Stop())
	require.NoError(t, m.Unprepare())
	require.NoError(t, m.Destroy())
	assert.Empty(t, errs)

	// Check output
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var moovs, moofs int
	_, err = gomp4.ReadBoxStructure(f, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMoov():
			moovs++
		case gomp4.BoxTypeMoof():
			moofs++
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, moovs)
	assert.GreaterOrEqual(t, moofs, 2)

	// Every sample made it
	bs, err := gomp4.ExtractBoxWithPayload(f, nil, gomp4.BoxPath{gomp4.BoxTypeMoof(), gomp4.BoxTypeTraf(), gomp4.BoxTypeTrun()})
	require.NoError(t, err)
	var samples uint32
	for _, b := range bs {
		samples += b.Payload.(*gomp4.Trun).SampleCount
	}
	assert.Equal(t, uint32(6), samples)
}

// Full call sequence against the real pipeline
func TestPipelineBackendScenario(t *testing.T) {
	// Create
	path := filepath.Join(t.TempDir(), "out.mp4")
	eh := NewEventHandler()
	closed := make(chan struct{}, 2)
	eh.AddForEventName(EventNameTrackClosed, func(Event) bool {
		closed <- struct{}{}
		return false
	})
	m, err := New(MuxerOptions{EventHandler: eh})
	require.NoError(t, err)
	errs := make(chan error, 10)
	require.NoError(t, m.SetErrorCallback(func(_ ErrorCode, err error) { errs <- err }))

	// Configure
	require.NoError(t, m.SetDataSink(path, ContainerFormatMP4))
	v, err := m.AddTrack(testVideoFormat())
	require.NoError(t, err)
	a, err := m.AddTrack(testAudioFormat())
	require.NoError(t, err)
	assert.NotEqual(t, v, a)
	require.NoError(t, m.Prepare())
	require.NoError(t, m.Start())
	assert.Equal(t, StateMuxing, m.State())

	// Write
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		s := &Sample{
			Data: annexB([]byte{0x41, 0x9a, byte(i)}),
			PTS:  time.Duration(i) * 40 * time.Millisecond,
		}
		if i == 0 {
			s.CodecData = annexB(testSPS, testPPS)
			s.Data = annexB([]byte{0x65, 0x88, 0x84})
			s.Flags = SampleFlagKeyFrame
		}
		require.NoError(t, m.WriteSample(ctx, v, s))
		require.NoError(t, m.WriteSample(ctx, a, &Sample{
			Data: []byte{0x21, 0x10, byte(i)},
			PTS:  time.Duration(i) * 1024 * time.Second / 44100,
		}))
	}

	// Close
	require.NoError(t, m.CloseTrack(v))
	require.NoError(t, m.CloseTrack(a))
	for i := 0; i < 2; i++ {
		select {
		case <-closed:
		case <-time.After(time.Second):
			t.Fatal("track closed event not received")
		}
	}
	require.NoError(t, m.Stop())
	require.NoError(t, m.Unprepare())
	require.NoError(t, m.Destroy())
	assert.Empty(t, errs)

	// Check output
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var bs []string
	_, err = gomp4.ReadBoxStructure(f, func(h *gomp4.ReadHandle) (interface{}, error) {
		bs = append(bs, h.BoxInfo.Type.String())
		return nil, nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(bs), 4)
	assert.Equal(t, []string{"ftyp", "moov", "moof", "mdat"}, bs[:4])
}
