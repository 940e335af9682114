package astipipeline

import (
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/pkg/errors"
)

// adtsWriter writes raw AAC access units prefixed by ADTS headers
type adtsWriter struct {
	config *mpeg4audio.AudioSpecificConfig
	out    io.WriteSeeker
}

func newADTSWriter(o Options) containerWriter { return &adtsWriter{} }

func (w *adtsWriter) addPad(p *MuxerPad) error {
	if p.index > 0 {
		return newCoreError(CoreErrorPad, "adts: only one pad is supported")
	} else if p.codec != CodecAAC {
		return newCoreError(CoreErrorNegotiation, "adts: %s is not supported", p.codec)
	}
	return nil
}

func (w *adtsWriter) reset(out io.WriteSeeker) error {
	w.config = nil
	w.out = out
	return nil
}

func (w *adtsWriter) resume(out io.WriteSeeker) error {
	w.out = out
	return nil
}

func (w *adtsWriter) setCaps(p *MuxerPad, c Caps) error {
	var asc mpeg4audio.AudioSpecificConfig
	if len(c.CodecData) > 0 {
		if err := asc.Unmarshal(c.CodecData); err != nil {
			return newStreamError(StreamErrorFormat, "adts: unmarshaling audio specific config failed: %s", err)
		}
	} else {
		asc = mpeg4audio.AudioSpecificConfig{
			ChannelCount: c.Channels,
			SampleRate:   c.SampleRate,
			Type:         mpeg4audio.ObjectTypeAACLC,
		}
	}
	w.config = &asc
	return nil
}

func (w *adtsWriter) writeBuffer(p *MuxerPad, b *Buffer) (err error) {
	// Already framed
	if isADTS(b.Data) {
		_, err = w.out.Write(b.Data)
		return
	}

	// Frame
	var d []byte
	if d, err = (mpeg4audio.ADTSPackets{{
		AU:           b.Data,
		ChannelCount: w.config.ChannelCount,
		SampleRate:   w.config.SampleRate,
		Type:         w.config.Type,
	}}).Marshal(); err != nil {
		return newError(ErrorDomainLibrary, LibraryErrorEncode, errors.Wrap(err, "adts: marshaling failed"))
	}
	_, err = w.out.Write(d)
	return
}

func (w *adtsWriter) endPad(p *MuxerPad) error { return nil }

func (w *adtsWriter) finalize() error {
	w.out = nil
	return nil
}
