package astipipeline

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// wavWriter writes a single PCM pad into a RIFF/WAVE file whose sizes are patched on finalize
type wavWriter struct {
	caps    Caps
	dataLen uint32
	out     io.WriteSeeker
	started bool
}

func newWAVWriter(o Options) containerWriter { return &wavWriter{} }

func (w *wavWriter) addPad(p *MuxerPad) error {
	if p.index > 0 {
		return newCoreError(CoreErrorPad, "wav: only one pad is supported")
	} else if p.codec != CodecPCM {
		return newCoreError(CoreErrorNegotiation, "wav: %s is not supported", p.codec)
	}
	return nil
}

func (w *wavWriter) reset(out io.WriteSeeker) error {
	w.caps = Caps{}
	w.dataLen = 0
	w.out = out
	w.started = false
	return nil
}

// resume appends after the data written so far, sizes being patched again on finalize
func (w *wavWriter) resume(out io.WriteSeeker) (err error) {
	w.out = out
	if w.started {
		_, err = w.out.Seek(0, io.SeekEnd)
	}
	return
}

func (w *wavWriter) setCaps(p *MuxerPad, c Caps) error {
	if w.started && (c.Channels != w.caps.Channels || c.SampleRate != w.caps.SampleRate || c.BitDepth != w.caps.BitDepth) {
		return newCoreError(CoreErrorNegotiation, "wav: format can't change once data has been written")
	}
	if c.BitDepth == 0 {
		c.BitDepth = 16
	}
	if c.Channels <= 0 || c.SampleRate <= 0 {
		return newCoreError(CoreErrorNegotiation, "wav: invalid format %d channel(s) at %dHz", c.Channels, c.SampleRate)
	}
	w.caps = c
	return nil
}

func (w *wavWriter) header() []byte {
	b := make([]byte, wavHeaderSize)
	blockAlign := uint16(w.caps.Channels * w.caps.BitDepth / 8)
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], 36+w.dataLen)
	copy(b[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1)
	binary.LittleEndian.PutUint16(b[22:], uint16(w.caps.Channels))
	binary.LittleEndian.PutUint32(b[24:], uint32(w.caps.SampleRate))
	binary.LittleEndian.PutUint32(b[28:], uint32(w.caps.SampleRate)*uint32(blockAlign))
	binary.LittleEndian.PutUint16(b[32:], blockAlign)
	binary.LittleEndian.PutUint16(b[34:], uint16(w.caps.BitDepth))
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], w.dataLen)
	return b
}

func (w *wavWriter) writeBuffer(p *MuxerPad, b *Buffer) (err error) {
	if !w.started {
		if _, err = w.out.Write(w.header()); err != nil {
			return
		}
		w.started = true
	}
	if _, err = w.out.Write(b.Data); err != nil {
		return
	}
	w.dataLen += uint32(len(b.Data))
	return
}

func (w *wavWriter) endPad(p *MuxerPad) error { return nil }

func (w *wavWriter) finalize() (err error) {
	if w.out == nil || w.caps.Channels == 0 {
		return
	}
	defer func() { w.out = nil }()

	// Empty file still gets a header
	if !w.started {
		if _, err = w.out.Write(w.header()); err != nil {
			return
		}
		w.started = true
		return
	}

	// Patch sizes
	var b [4]byte
	for _, v := range []struct {
		offset int64
		size   uint32
	}{
		{offset: 4, size: 36 + w.dataLen},
		{offset: 40, size: w.dataLen},
	} {
		if _, err = w.out.Seek(v.offset, io.SeekStart); err != nil {
			return
		}
		binary.LittleEndian.PutUint32(b[:], v.size)
		if _, err = w.out.Write(b[:]); err != nil {
			return
		}
	}
	_, err = w.out.Seek(0, io.SeekEnd)
	return
}
