package astipipeline

import (
	"bytes"
	"time"
)

// AMR frame sizes in bytes, TOC byte included, indexed by frame type
var (
	amrNBFrameSizes = [16]int{13, 14, 16, 18, 20, 21, 27, 32, 6, 0, 0, 0, 0, 0, 0, 1}
	amrWBFrameSizes = [16]int{18, 24, 33, 37, 41, 47, 51, 59, 61, 6, 0, 0, 0, 0, 1, 1}
)

// AMR sample rates and frame rate
const (
	AMRFramesPerSecond = 50
	AMRNBSampleRate    = 8000
	AMRWBSampleRate    = 16000
)

// AMR file headers
var (
	AMRNBHeader = []byte("#!AMR\n")
	AMRWBHeader = []byte("#!AMR-WB\n")
)

// AMRFrameSize returns the size of the frame whose TOC byte is toc, 0 if the frame type is invalid
func AMRFrameSize(wb bool, toc byte) int {
	if wb {
		return amrWBFrameSizes[(toc>>3)&0xf]
	}
	return amrNBFrameSizes[(toc>>3)&0xf]
}

// amrParser checks buffers hold whole storage format frames
type amrParser struct {
	*parserBase
	wb bool
}

func newAMRParser(p *Pipeline, md ElementMetadata) (Element, error) {
	return &amrParser{parserBase: newParserBase(md, "Validates AMR frames")}, nil
}

// HandleCaps implements the Handler interface
func (p *amrParser) HandleCaps(c Caps) error {
	p.wb = c.Codec == CodecAMRWB
	return p.next().HandleCaps(c)
}

// HandleBuffer implements the Handler interface
func (p *amrParser) HandleBuffer(b *Buffer) error {
	// Strip file header
	d := b.Data
	if p.wb {
		d = bytes.TrimPrefix(d, AMRWBHeader)
	} else {
		d = bytes.TrimPrefix(d, AMRNBHeader)
	}

	// Validate frames
	var frames int
	for pos := 0; pos < len(d); frames++ {
		s := AMRFrameSize(p.wb, d[pos])
		if s == 0 {
			return newStreamError(StreamErrorFormat, "%s: invalid frame type %d", p.md.Name, (d[pos]>>3)&0xf)
		} else if pos+s > len(d) {
			return newStreamError(StreamErrorFormat, "%s: frame of size %d at position %d is truncated", p.md.Name, s, pos)
		}
		pos += s
	}
	if frames == 0 {
		return nil
	}

	// Forward
	o := *b
	o.Data = d
	if o.Duration == 0 {
		o.Duration = time.Duration(frames) * time.Second / AMRFramesPerSecond
	}
	return p.next().HandleBuffer(&o)
}
