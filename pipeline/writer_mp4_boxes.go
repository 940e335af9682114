package astipipeline

import (
	"bytes"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/pkg/errors"
)

// 3GPP sample entries, see 3GPP TS 26.244
var (
	mp4BoxTypeD263 = gomp4.StrToBoxType("d263")
	mp4BoxTypeDamr = gomp4.StrToBoxType("damr")
	mp4BoxTypeS263 = gomp4.StrToBoxType("s263")
	mp4BoxTypeSamr = gomp4.StrToBoxType("samr")
	mp4BoxTypeSawb = gomp4.StrToBoxType("sawb")
)

const (
	mp4DefaultH263Height = 144
	mp4DefaultH263Width  = 176
	mp4AMRModeSetAll     = 0x81ff
)

var mp4Vendor = [4]byte{'a', 's', 't', 'i'}

func init() {
	gomp4.AddAnyTypeBoxDef(&gomp4.VisualSampleEntry{}, mp4BoxTypeS263)
	gomp4.AddAnyTypeBoxDef(&gomp4.AudioSampleEntry{}, mp4BoxTypeSamr)
	gomp4.AddAnyTypeBoxDef(&gomp4.AudioSampleEntry{}, mp4BoxTypeSawb)
	gomp4.AddBoxDef(&mp4D263{})
	gomp4.AddBoxDef(&mp4Damr{})
}

type mp4D263 struct {
	gomp4.Box
	Vendor         [4]byte `mp4:"0,size=8,string"`
	DecoderVersion uint8   `mp4:"1,size=8"`
	Level          uint8   `mp4:"2,size=8"`
	Profile        uint8   `mp4:"3,size=8"`
}

func (*mp4D263) GetType() gomp4.BoxType { return mp4BoxTypeD263 }

type mp4Damr struct {
	gomp4.Box
	Vendor           [4]byte `mp4:"0,size=8,string"`
	DecoderVersion   uint8   `mp4:"1,size=8"`
	ModeSet          uint16  `mp4:"2,size=16"`
	ModeChangePeriod uint8   `mp4:"3,size=8"`
	FramesPerSample  uint8   `mp4:"4,size=8"`
}

func (*mp4Damr) GetType() gomp4.BoxType { return mp4BoxTypeDamr }

// needsRewrite returns true when the init segment can't be written as marshaled
func (w *mp4Writer) needsRewrite(ts []*mp4Track) bool {
	if w.brand != [4]byte{} {
		return true
	}
	for _, t := range ts {
		if t.caps.Codec.is3GPPOnly() {
			return true
		}
	}
	return false
}

func (c Codec) is3GPPOnly() bool {
	switch c {
	case CodecAMRNB, CodecAMRWB, CodecH263:
		return true
	}
	return false
}

func writeMP4Box(w *gomp4.Writer, b gomp4.IBox, children ...gomp4.IBox) (err error) {
	if _, err = w.StartBox(&gomp4.BoxInfo{Type: b.GetType()}); err != nil {
		return
	}
	if _, err = gomp4.Marshal(w, b, gomp4.Context{}); err != nil {
		return
	}
	for _, c := range children {
		if err = writeMP4Box(w, c); err != nil {
			return
		}
	}
	_, err = w.EndBox()
	return
}

// rewriteInit replaces the ftyp box with the writer brand and the placeholder sample
// entries of 3GPP only codecs with their actual description
func (w *mp4Writer) rewriteInit(b []byte, ts []*mp4Track) (o []byte, err error) {
	// Index tracks
	tracks := make(map[uint32]*mp4Track)
	for _, t := range ts {
		tracks[uint32(t.id)] = t
	}

	var buf seekablebuffer.Buffer
	bw := gomp4.NewWriter(&buf)
	r := bytes.NewReader(b)
	var cur *mp4Track
	if _, err = gomp4.ReadBoxStructure(r, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeFtyp():
			if w.brand == [4]byte{} {
				return nil, bw.CopyBox(r, &h.BoxInfo)
			}
			return nil, writeMP4Box(bw, &gomp4.Ftyp{
				CompatibleBrands: []gomp4.CompatibleBrandElem{
					{CompatibleBrand: w.brand},
					{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
				},
				MajorBrand: w.brand,
			})
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(),
			gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd(), gomp4.BoxTypeTkhd():
			// Read payload
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}

			// Update track header
			if tkhd, ok := box.(*gomp4.Tkhd); ok {
				cur = tracks[tkhd.TrackID]
				if cur != nil && cur.caps.Codec == CodecH263 {
					width, height := cur.dimensions()
					tkhd.Width = uint32(width) << 16
					tkhd.Height = uint32(height) << 16
				}
			}

			// Write
			if _, err = bw.StartBox(&gomp4.BoxInfo{Type: h.BoxInfo.Type}); err != nil {
				return nil, err
			}
			if _, err = gomp4.Marshal(bw, box, h.BoxInfo.Context); err != nil {
				return nil, err
			}
			if _, err = h.Expand(); err != nil {
				return nil, err
			}
			_, err = bw.EndBox()
			return nil, err
		case gomp4.BoxTypeMp4v(), gomp4.BoxTypeIpcm():
			if cur == nil || !cur.caps.Codec.is3GPPOnly() {
				return nil, bw.CopyBox(r, &h.BoxInfo)
			}
			return nil, cur.writeSampleEntry(bw)
		default:
			return nil, bw.CopyBox(r, &h.BoxInfo)
		}
	}); err != nil {
		err = errors.Wrap(err, "astipipeline: rewriting box structure failed")
		return
	}
	o = buf.Bytes()
	return
}

func (t *mp4Track) dimensions() (width, height int) {
	width, height = t.caps.Width, t.caps.Height
	if width <= 0 || height <= 0 {
		width, height = mp4DefaultH263Width, mp4DefaultH263Height
	}
	return
}

func (t *mp4Track) writeSampleEntry(w *gomp4.Writer) error {
	switch t.caps.Codec {
	case CodecH263:
		width, height := t.dimensions()
		return writeMP4Box(w, &gomp4.VisualSampleEntry{
			SampleEntry: gomp4.SampleEntry{
				AnyTypeBox:         gomp4.AnyTypeBox{Type: mp4BoxTypeS263},
				DataReferenceIndex: 1,
			},
			Width:           uint16(width),
			Height:          uint16(height),
			Horizresolution: 72 << 16,
			Vertresolution:  72 << 16,
			FrameCount:      1,
			Depth:           0x18,
			PreDefined3:     -1,
		}, &mp4D263{
			Vendor: mp4Vendor,
			Level:  10,
		})
	default:
		typ := mp4BoxTypeSamr
		if t.caps.Codec == CodecAMRWB {
			typ = mp4BoxTypeSawb
		}
		return writeMP4Box(w, &gomp4.AudioSampleEntry{
			SampleEntry: gomp4.SampleEntry{
				AnyTypeBox:         gomp4.AnyTypeBox{Type: typ},
				DataReferenceIndex: 1,
			},
			ChannelCount: 1,
			SampleSize:   16,
			SampleRate:   t.timeScale << 16,
		}, &mp4Damr{
			Vendor:          mp4Vendor,
			ModeSet:         mp4AMRModeSetAll,
			FramesPerSample: 1,
		})
	}
}
