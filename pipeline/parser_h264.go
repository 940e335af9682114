package astipipeline

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// h264Parser outputs length prefixed access units and caps whose codec data holds
// the SPS and PPS in Annex-B form
type h264Parser struct {
	*parserBase
	caps     Caps
	pps, sps []byte
}

func newH264Parser(p *Pipeline, md ElementMetadata) (Element, error) {
	return &h264Parser{parserBase: newParserBase(md, "Converts H.264 access units to AVCC")}, nil
}

func isAnnexB(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0, 0, 1}) || bytes.HasPrefix(b, []byte{0, 0, 0, 1})
}

func unmarshalH264(b []byte) (au [][]byte, err error) {
	if isAnnexB(b) {
		var a h264.AnnexB
		if err = a.Unmarshal(b); err != nil {
			err = errors.Wrap(err, "astipipeline: unmarshaling annex-b failed")
			return
		}
		au = a
		return
	}
	var a h264.AVCC
	if err = a.Unmarshal(b); err != nil {
		err = errors.Wrap(err, "astipipeline: unmarshaling avcc failed")
		return
	}
	au = a
	return
}

// parseAVCDecoderConfigurationRecord extracts the first SPS and PPS of an avcC box payload
func parseAVCDecoderConfigurationRecord(b []byte) (sps, pps []byte, err error) {
	if len(b) < 7 || b[0] != 1 {
		err = errors.New("astipipeline: invalid avcC")
		return
	}

	// SPS count is on 5 bits, PPS count on a full byte
	pos := 6
	for _, ps := range []*[]byte{&sps, &pps} {
		var n int
		if ps == &sps {
			n = int(b[5] & 0x1f)
		} else {
			if pos >= len(b) {
				err = errors.New("astipipeline: avcC is too short")
				return
			}
			n = int(b[pos])
			pos++
		}
		for i := 0; i < n; i++ {
			var nalu []byte
			if nalu, pos, err = readAVCCParameterSet(b, pos); err != nil {
				return
			}
			if *ps == nil {
				*ps = nalu
			}
		}
	}
	return
}

func readAVCCParameterSet(b []byte, pos int) (nalu []byte, next int, err error) {
	if pos+2 > len(b) {
		err = errors.New("astipipeline: avcC is too short")
		return
	}
	l := int(b[pos])<<8 | int(b[pos+1])
	if pos+2+l > len(b) {
		err = errors.New("astipipeline: avcC parameter set is too short")
		return
	}
	nalu = append([]byte{}, b[pos+2:pos+2+l]...)
	next = pos + 2 + l
	return
}

func (p *h264Parser) updateParameterSets(sps, pps []byte) (changed bool, err error) {
	if sps == nil || pps == nil || (bytes.Equal(sps, p.sps) && bytes.Equal(pps, p.pps)) {
		return
	}
	p.sps = append([]byte{}, sps...)
	p.pps = append([]byte{}, pps...)
	if p.caps.CodecData, err = h264.AnnexB([][]byte{p.sps, p.pps}).Marshal(); err != nil {
		err = errors.Wrap(err, "astipipeline: marshaling parameter sets failed")
		return
	}
	changed = true
	return
}

// HandleCaps implements the Handler interface
func (p *h264Parser) HandleCaps(c Caps) (err error) {
	// Extract parameter sets
	var sps, pps []byte
	if len(c.CodecData) > 0 {
		if isAnnexB(c.CodecData) {
			var au [][]byte
			if au, err = unmarshalH264(c.CodecData); err != nil {
				return newStreamError(StreamErrorFormat, "%s: %s", p.md.Name, err)
			}
			for _, nalu := range au {
				if len(nalu) == 0 {
					continue
				}
				switch h264.NALUType(nalu[0] & 0x1f) {
				case h264.NALUTypeSPS:
					sps = nalu
				case h264.NALUTypePPS:
					pps = nalu
				}
			}
		} else if sps, pps, err = parseAVCDecoderConfigurationRecord(c.CodecData); err != nil {
			return newStreamError(StreamErrorFormat, "%s: %s", p.md.Name, err)
		}
	}

	// Update caps
	codecData := p.caps.CodecData
	p.caps = c.Clone()
	p.caps.CodecData = codecData
	if _, err = p.updateParameterSets(sps, pps); err != nil {
		return newStreamError(StreamErrorFormat, "%s: %s", p.md.Name, err)
	}
	return p.next().HandleCaps(p.caps.Clone())
}

// HandleBuffer implements the Handler interface
func (p *h264Parser) HandleBuffer(b *Buffer) (err error) {
	// Unmarshal
	var au [][]byte
	if au, err = unmarshalH264(b.Data); err != nil {
		return newStreamError(StreamErrorFormat, "%s: %s", p.md.Name, err)
	}

	// Loop through NALUs
	var sps, pps []byte
	var key bool
	nalus := make([][]byte, 0, len(au)+2)
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1f) {
		case h264.NALUTypeAccessUnitDelimiter:
			continue
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		case h264.NALUTypeIDR:
			key = true
		}
		nalus = append(nalus, nalu)
	}

	// Nothing to forward
	if len(nalus) == 0 {
		return
	}

	// In-band parameter sets changed
	var changed bool
	if changed, err = p.updateParameterSets(sps, pps); err != nil {
		return newStreamError(StreamErrorFormat, "%s: %s", p.md.Name, err)
	} else if changed {
		if err = p.next().HandleCaps(p.caps.Clone()); err != nil {
			return
		}
	}

	// Key frames always carry parameter sets
	if key && sps == nil && p.sps != nil {
		nalus = append([][]byte{p.sps, p.pps}, nalus...)
	}

	// Marshal
	o := *b
	if o.Data, err = h264.AVCC(nalus).Marshal(); err != nil {
		return newStreamError(StreamErrorFormat, "%s: marshaling avcc failed: %s", p.md.Name, err)
	}
	if key {
		o.Flags |= BufferFlagKeyFrame
	}
	return p.next().HandleBuffer(&o)
}
