package astipipeline

import (
	"io"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

const (
	mp4VideoTimeScale = 90000

	mp4DefaultAudioDuration = AACSamplesPerAccessUnit
	mp4DefaultVideoDuration = 3000
)

// mp4Writer writes a fragmented MP4: an init segment followed by parts holding up to
// fragmentSamples samples per track
type mp4Writer struct {
	brand           [4]byte
	fragmentSamples int
	initialized     bool
	out             io.WriteSeeker
	seq             uint32
	tracks          []*mp4Track
}

type mp4Track struct {
	baseTime     uint64
	caps         Caps
	codec        mp4.Codec
	eos          bool
	id           int
	inInit       bool
	lastDuration uint32
	pending      *Buffer
	samples      []*fmp4.Sample
	timeScale    uint32
}

func newMP4Writer(o Options) containerWriter {
	return &mp4Writer{fragmentSamples: o.FragmentSamples}
}

func new3GPPWriter(o Options) containerWriter {
	return &mp4Writer{
		brand:           [4]byte{'3', 'g', 'p', '6'},
		fragmentSamples: o.FragmentSamples,
	}
}

func (w *mp4Writer) addPad(p *MuxerPad) error {
	switch p.codec {
	case CodecAAC, CodecAMRNB, CodecAMRWB, CodecH263, CodecH264, CodecMPEG4Video:
	default:
		return newCoreError(CoreErrorNegotiation, "mp4: %s can't be described", p.codec)
	}
	w.tracks = append(w.tracks, &mp4Track{id: p.index + 1})
	return nil
}

func (w *mp4Writer) reset(out io.WriteSeeker) error {
	w.initialized = false
	w.out = out
	w.seq = 0
	for _, t := range w.tracks {
		*t = mp4Track{id: t.id}
	}
	return nil
}

func (w *mp4Writer) resume(out io.WriteSeeker) error {
	w.out = out
	return nil
}

func (w *mp4Writer) setCaps(p *MuxerPad, c Caps) (err error) {
	// Init segment can't be changed once written
	t := w.tracks[p.index]
	if w.initialized && t.codec != nil {
		t.caps = c
		return nil
	}
	t.caps = c

	// Update codec
	switch c.Codec {
	case CodecAAC:
		t.timeScale = uint32(c.SampleRate)
		if len(c.CodecData) > 0 {
			var asc mpeg4audio.AudioSpecificConfig
			if err = asc.Unmarshal(c.CodecData); err != nil {
				return newStreamError(StreamErrorFormat, "mp4: unmarshaling audio specific config failed: %s", err)
			}
			t.timeScale = uint32(asc.SampleRate)
			t.codec = &mp4.CodecMPEG4Audio{Config: asc}
		}
	case CodecH264:
		t.timeScale = mp4VideoTimeScale
		if len(c.CodecData) > 0 {
			var a h264.AnnexB
			if err = a.Unmarshal(c.CodecData); err != nil {
				return newStreamError(StreamErrorFormat, "mp4: unmarshaling parameter sets failed: %s", err)
			}
			codec := &mp4.CodecH264{}
			for _, nalu := range a {
				if len(nalu) == 0 {
					continue
				}
				switch h264.NALUType(nalu[0] & 0x1f) {
				case h264.NALUTypeSPS:
					codec.SPS = nalu
				case h264.NALUTypePPS:
					codec.PPS = nalu
				}
			}
			if codec.SPS != nil && codec.PPS != nil {
				t.codec = codec
			}
		}
	case CodecMPEG4Video:
		t.timeScale = mp4VideoTimeScale
		if len(c.CodecData) > 0 {
			t.codec = &mp4.CodecMPEG4Video{Config: c.CodecData}
		}
	// Placeholders whose sample entries are replaced when the init segment is rewritten
	case CodecH263:
		t.timeScale = mp4VideoTimeScale
		t.codec = &mp4.CodecMPEG4Video{Config: []byte{0}}
	case CodecAMRNB, CodecAMRWB:
		t.timeScale = AMRNBSampleRate
		if c.Codec == CodecAMRWB {
			t.timeScale = AMRWBSampleRate
		}
		t.codec = &mp4.CodecLPCM{
			BitDepth:     16,
			ChannelCount: 1,
			SampleRate:   int(t.timeScale),
		}
	}
	return w.writeInit(false)
}

// fallbackCodec is used when a track is about to receive samples without a codec
func (t *mp4Track) fallbackCodec() {
	if t.codec != nil || t.caps.Codec != CodecAAC || t.caps.SampleRate <= 0 {
		return
	}
	t.codec = &mp4.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
		ChannelCount: t.caps.Channels,
		SampleRate:   t.caps.SampleRate,
		Type:         mpeg4audio.ObjectTypeAACLC,
	}}
	t.timeScale = uint32(t.caps.SampleRate)
}

func (t *mp4Track) scale(d time.Duration) int64 {
	return int64(d) * int64(t.timeScale) / int64(time.Second)
}

func (t *mp4Track) defaultDuration() uint32 {
	if t.caps.Codec.IsVideo() {
		if t.caps.FrameRate > 0 {
			return t.timeScale / uint32(t.caps.FrameRate)
		}
		return mp4DefaultVideoDuration
	}
	if t.caps.Codec == CodecAMRNB || t.caps.Codec == CodecAMRWB {
		return t.timeScale / AMRFramesPerSecond
	}
	return mp4DefaultAudioDuration
}

// push turns the pending buffer into a sample, next being the following buffer if any
func (t *mp4Track) push(next *Buffer) {
	// Nothing pending
	b := t.pending
	if b == nil {
		return
	}
	t.pending = nil

	// Get duration
	var d uint32
	if next != nil {
		if v := t.scale(next.DTS) - t.scale(b.DTS); v > 0 {
			d = uint32(v)
		}
	}
	if d == 0 && b.Duration > 0 {
		d = uint32(t.scale(b.Duration))
	}
	if d == 0 {
		d = t.lastDuration
	}
	if d == 0 {
		d = t.defaultDuration()
	}
	t.lastDuration = d

	// First sample of the part gives its base time
	if len(t.samples) == 0 {
		if dts := t.scale(b.DTS); dts > 0 {
			t.baseTime = uint64(dts)
		} else {
			t.baseTime = 0
		}
	}

	// Append
	t.samples = append(t.samples, &fmp4.Sample{
		Duration:        d,
		IsNonSyncSample: t.caps.Codec.IsVideo() && !b.KeyFrame(),
		PTSOffset:       int32(t.scale(b.PTS) - t.scale(b.DTS)),
		Payload:         b.Data,
	})
}

func (w *mp4Writer) writeBuffer(p *MuxerPad, b *Buffer) (err error) {
	// Track was left out of the init segment
	t := w.tracks[p.index]
	if w.initialized && !t.inInit {
		return newStreamError(StreamErrorMux, "mp4: track %d is not part of the init segment", t.id)
	}

	// Make sure the track can be described
	if t.codec == nil {
		t.fallbackCodec()
		if err = w.writeInit(false); err != nil {
			return
		}
	}

	// Copy data since the buffer may be reused upstream
	c := *b
	c.Data = append([]byte{}, b.Data...)
	t.push(&c)
	t.pending = &c

	// Flush
	if w.initialized && len(t.samples) >= w.fragmentSamples {
		return w.flush()
	}
	return nil
}

func (w *mp4Writer) endPad(p *MuxerPad) (err error) {
	t := w.tracks[p.index]
	t.eos = true
	t.push(nil)
	if err = w.writeInit(false); err != nil {
		return
	}
	if w.initialized {
		return w.flush()
	}
	return nil
}

func (w *mp4Writer) finalize() (err error) {
	if w.out == nil {
		return nil
	}
	for _, t := range w.tracks {
		t.fallbackCodec()
		t.push(nil)
	}
	if err = w.writeInit(true); err != nil {
		return
	}
	if err = w.flush(); err != nil {
		return
	}
	w.out = nil
	return
}

// described returns tracks that can be written. Tracks without codec are skipped once
// they're known to never hold samples.
func (w *mp4Writer) described(force bool) (ts []*mp4Track, ok bool) {
	for _, t := range w.tracks {
		if t.codec != nil {
			ts = append(ts, t)
			continue
		}
		if len(t.samples) > 0 || t.pending != nil || (!force && !t.eos) {
			return nil, false
		}
	}
	return ts, true
}

func (w *mp4Writer) writeInit(force bool) (err error) {
	// Already written
	if w.initialized || w.out == nil {
		return
	}

	// Not every track is described yet
	ts, ok := w.described(force)
	if !ok {
		if force {
			return newStreamError(StreamErrorMux, "mp4: a track has samples but no codec configuration")
		}
		return
	}
	if len(ts) == 0 {
		if force {
			return newStreamError(StreamErrorMux, "mp4: no track to write")
		}
		return
	}

	// Create init
	i := &fmp4.Init{}
	for _, t := range ts {
		i.Tracks = append(i.Tracks, &fmp4.InitTrack{
			Codec:     t.codec,
			ID:        t.id,
			TimeScale: t.timeScale,
		})
	}

	// Marshal
	var buf seekablebuffer.Buffer
	if err = i.Marshal(&buf); err != nil {
		return newError(ErrorDomainLibrary, LibraryErrorEncode, errors.Wrap(err, "mp4: marshaling init failed"))
	}
	b := buf.Bytes()

	// Rewrite
	if w.needsRewrite(ts) {
		if b, err = w.rewriteInit(b, ts); err != nil {
			return newError(ErrorDomainLibrary, LibraryErrorEncode, errors.Wrap(err, "mp4: rewriting init failed"))
		}
	}

	// Write
	if _, err = w.out.Write(b); err != nil {
		return
	}
	w.initialized = true
	for _, t := range ts {
		t.inInit = true
	}
	return
}

func (w *mp4Writer) flush() (err error) {
	// Create part
	w.seq++
	p := &fmp4.Part{SequenceNumber: w.seq}
	for _, t := range w.tracks {
		if len(t.samples) == 0 {
			continue
		}
		p.Tracks = append(p.Tracks, &fmp4.PartTrack{
			BaseTime: t.baseTime,
			ID:       t.id,
			Samples:  t.samples,
		})
		t.samples = nil
	}

	// Nothing to write
	if len(p.Tracks) == 0 {
		w.seq--
		return
	}

	// Marshal
	var buf seekablebuffer.Buffer
	if err = p.Marshal(&buf); err != nil {
		return newError(ErrorDomainLibrary, LibraryErrorEncode, errors.Wrap(err, "mp4: marshaling part failed"))
	}

	// Write
	_, err = w.out.Write(buf.Bytes())
	return
}
