package astipipeline

import "bytes"

var (
	mpeg4StartCodeVOP = []byte{0, 0, 1, 0xb6}
	mpeg4StartCode    = []byte{0, 0, 1}
)

// mpeg4VideoParser flags I-VOPs and extracts the decoder configuration when caps lack one
type mpeg4VideoParser struct {
	*parserBase
	caps Caps
}

func newMPEG4VideoParser(p *Pipeline, md ElementMetadata) (Element, error) {
	return &mpeg4VideoParser{parserBase: newParserBase(md, "Flags MPEG-4 part 2 key frames")}, nil
}

// HandleCaps implements the Handler interface
func (p *mpeg4VideoParser) HandleCaps(c Caps) error {
	p.caps = c.Clone()
	return p.next().HandleCaps(c)
}

// HandleBuffer implements the Handler interface
func (p *mpeg4VideoParser) HandleBuffer(b *Buffer) (err error) {
	// Find VOP
	o := *b
	i := bytes.Index(b.Data, mpeg4StartCodeVOP)
	if i >= 0 && i+4 < len(b.Data) && b.Data[i+4]>>6 == 0 {
		o.Flags |= BufferFlagKeyFrame
	}

	// Headers preceding the first VOP are the decoder configuration
	if len(p.caps.CodecData) == 0 && i > 0 && bytes.HasPrefix(b.Data, mpeg4StartCode) {
		p.caps.CodecData = append([]byte{}, b.Data[:i]...)
		if err = p.next().HandleCaps(p.caps.Clone()); err != nil {
			return
		}
	}
	return p.next().HandleBuffer(&o)
}
