package astipipeline

import (
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// AACSamplesPerAccessUnit is the number of samples held by an AAC access unit
const AACSamplesPerAccessUnit = 1024

// aacParser outputs raw AAC access units and makes sure caps carry an AudioSpecificConfig
type aacParser struct {
	*parserBase
	caps       Caps
	configured bool
}

func newAACParser(p *Pipeline, md ElementMetadata) (Element, error) {
	return &aacParser{parserBase: newParserBase(md, "Strips ADTS headers from AAC access units")}, nil
}

func isADTS(b []byte) bool {
	return len(b) >= 7 && b[0] == 0xff && b[1]&0xf0 == 0xf0
}

// HandleCaps implements the Handler interface
func (p *aacParser) HandleCaps(c Caps) error {
	p.caps = c.Clone()
	p.configured = len(c.CodecData) > 0
	if !p.configured {
		// Wait for the first ADTS header
		return nil
	}
	return p.next().HandleCaps(p.caps.Clone())
}

// HandleBuffer implements the Handler interface
func (p *aacParser) HandleBuffer(b *Buffer) (err error) {
	// Raw access unit
	if !isADTS(b.Data) {
		if !p.configured {
			if err = p.configureFromCaps(); err != nil {
				return
			}
		}
		return p.next().HandleBuffer(b)
	}

	// Unmarshal
	var pkts mpeg4audio.ADTSPackets
	if err = pkts.Unmarshal(b.Data); err != nil {
		return newStreamError(StreamErrorFormat, "%s: unmarshaling adts failed: %s", p.md.Name, err)
	}

	// Loop through packets
	var pts, dts = b.PTS, b.DTS
	for idx, pkt := range pkts {
		// Configure
		if !p.configured {
			if err = p.configure(mpeg4audio.AudioSpecificConfig{
				ChannelCount: pkt.ChannelCount,
				SampleRate:   pkt.SampleRate,
				Type:         pkt.Type,
			}); err != nil {
				return
			}
		}

		// Forward
		o := *b
		o.Data = pkt.AU
		o.DTS = dts
		o.PTS = pts
		if len(pkts) > 1 {
			o.Duration = 0
		}
		if err = p.next().HandleBuffer(&o); err != nil {
			return
		}

		// Following access units are 1024 samples later
		if idx < len(pkts)-1 && pkt.SampleRate > 0 {
			d := time.Duration(AACSamplesPerAccessUnit) * time.Second / time.Duration(pkt.SampleRate)
			dts += d
			pts += d
		}
	}
	return
}

func (p *aacParser) configureFromCaps() error {
	return p.configure(mpeg4audio.AudioSpecificConfig{
		ChannelCount: p.caps.Channels,
		SampleRate:   p.caps.SampleRate,
		Type:         mpeg4audio.ObjectTypeAACLC,
	})
}

func (p *aacParser) configure(c mpeg4audio.AudioSpecificConfig) (err error) {
	if p.caps.CodecData, err = c.Marshal(); err != nil {
		return newStreamError(StreamErrorFormat, "%s: marshaling audio specific config failed: %s", p.md.Name, err)
	}
	p.caps.Channels = c.ChannelCount
	p.caps.SampleRate = c.SampleRate
	p.configured = true
	return p.next().HandleCaps(p.caps.Clone())
}
