package astipipeline

import "io"

// amrWriter writes AMR storage format frames after the magic number
type amrWriter struct {
	out     io.WriteSeeker
	started bool
	wb      bool
}

func newAMRWriter(o Options) containerWriter { return &amrWriter{} }

func (w *amrWriter) addPad(p *MuxerPad) error {
	if p.index > 0 {
		return newCoreError(CoreErrorPad, "amr: only one pad is supported")
	}
	switch p.codec {
	case CodecAMRNB:
	case CodecAMRWB:
		w.wb = true
	default:
		return newCoreError(CoreErrorNegotiation, "amr: %s is not supported", p.codec)
	}
	return nil
}

func (w *amrWriter) reset(out io.WriteSeeker) error {
	w.out = out
	w.started = false
	return nil
}

func (w *amrWriter) resume(out io.WriteSeeker) error {
	w.out = out
	return nil
}

func (w *amrWriter) setCaps(p *MuxerPad, c Caps) error { return nil }

func (w *amrWriter) writeHeader() (err error) {
	if w.started {
		return
	}
	h := AMRNBHeader
	if w.wb {
		h = AMRWBHeader
	}
	if _, err = w.out.Write(h); err != nil {
		return
	}
	w.started = true
	return
}

func (w *amrWriter) writeBuffer(p *MuxerPad, b *Buffer) (err error) {
	if err = w.writeHeader(); err != nil {
		return
	}
	_, err = w.out.Write(b.Data)
	return
}

func (w *amrWriter) endPad(p *MuxerPad) error { return nil }

func (w *amrWriter) finalize() (err error) {
	if w.out == nil {
		return
	}
	err = w.writeHeader()
	w.out = nil
	return
}
