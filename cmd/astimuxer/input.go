package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/asticode/go-astimuxer"
	astipipeline "github.com/asticode/go-astimuxer/pipeline"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/gabriel-vasile/mimetype"
)

// sampleReader reads samples from an input file. next returns io.EOF once done.
type sampleReader interface {
	format() astimuxer.MediaFormat
	next() (*astimuxer.Sample, error)
}

func newAudioReader(path string) (r sampleReader, err error) {
	// Detect
	var m *mimetype.MIME
	if m, err = mimetype.DetectFile(path); err != nil {
		err = fmt.Errorf("main: detecting mime type of %s failed: %w", path, err)
		return
	}

	// Read
	var b []byte
	if b, err = os.ReadFile(path); err != nil {
		err = fmt.Errorf("main: reading %s failed: %w", path, err)
		return
	}

	// Create reader
	switch {
	case m.Is("audio/aac"):
		return newADTSReader(b)
	case m.Is("audio/amr"):
		return newAMRReader(b)
	case m.Is("audio/wav"):
		return newWAVReader(b)
	}
	return nil, fmt.Errorf("main: unsupported audio mime type %s", m)
}

type h264Reader struct {
	aus [][][]byte
	fps int
	h   int
	idx int
	w   int
}

func newH264Reader(path string, fps int, width, height int) (r *h264Reader, err error) {
	// Read
	var b []byte
	if b, err = os.ReadFile(path); err != nil {
		err = fmt.Errorf("main: reading %s failed: %w", path, err)
		return
	}

	// Unmarshal
	var a h264.AnnexB
	if err = a.Unmarshal(b); err != nil {
		err = fmt.Errorf("main: unmarshaling annex-b failed: %w", err)
		return
	}

	// Split access units
	r = &h264Reader{
		fps: fps,
		h:   height,
		w:   width,
	}
	var au [][]byte
	var hasVCL bool
	for _, nalu := range a {
		if len(nalu) == 0 {
			continue
		}
		typ := h264.NALUType(nalu[0] & 0x1f)
		vcl := typ == h264.NALUTypeIDR || typ == h264.NALUTypeNonIDR
		// A new access unit starts on a delimiter, or on the first slice of a new picture
		if hasVCL && (typ == h264.NALUTypeAccessUnitDelimiter || typ == h264.NALUTypeSPS ||
			(vcl && len(nalu) > 1 && nalu[1]&0x80 > 0)) {
			r.aus = append(r.aus, au)
			au = nil
			hasVCL = false
		}
		au = append(au, nalu)
		if vcl {
			hasVCL = true
		}
	}
	if hasVCL {
		r.aus = append(r.aus, au)
	}
	return
}

func (r *h264Reader) format() astimuxer.MediaFormat {
	return astimuxer.MediaFormat{
		MimeType: astimuxer.MimeTypeH264HP,
		Video: &astimuxer.VideoInfo{
			FrameRate: r.fps,
			Height:    r.h,
			Width:     r.w,
		},
	}
}

func (r *h264Reader) next() (s *astimuxer.Sample, err error) {
	// EOF
	if r.idx >= len(r.aus) {
		return nil, io.EOF
	}
	au := r.aus[r.idx]

	// Create sample
	s = &astimuxer.Sample{
		Duration: time.Second / time.Duration(r.fps),
		PTS:      time.Duration(r.idx) * time.Second / time.Duration(r.fps),
	}
	for _, nalu := range au {
		if h264.NALUType(nalu[0]&0x1f) == h264.NALUTypeIDR {
			s.Flags |= astimuxer.SampleFlagKeyFrame
		}
	}
	if s.Data, err = h264.AnnexB(au).Marshal(); err != nil {
		err = fmt.Errorf("main: marshaling annex-b failed: %w", err)
		return
	}
	r.idx++
	return
}

type adtsReader struct {
	idx  int
	pkts mpeg4audio.ADTSPackets
}

func newADTSReader(b []byte) (r *adtsReader, err error) {
	r = &adtsReader{}
	if err = r.pkts.Unmarshal(b); err != nil {
		err = fmt.Errorf("main: unmarshaling adts failed: %w", err)
		return
	} else if len(r.pkts) == 0 {
		err = fmt.Errorf("main: no adts packets found")
		return
	}
	return
}

func (r *adtsReader) format() astimuxer.MediaFormat {
	return astimuxer.MediaFormat{
		Audio: &astimuxer.AudioInfo{
			Channels:   r.pkts[0].ChannelCount,
			SampleRate: r.pkts[0].SampleRate,
		},
		MimeType: astimuxer.MimeTypeAACLC,
	}
}

func (r *adtsReader) next() (s *astimuxer.Sample, err error) {
	// EOF
	if r.idx >= len(r.pkts) {
		return nil, io.EOF
	}
	pkt := r.pkts[r.idx]

	// Create sample
	d := time.Duration(astipipeline.AACSamplesPerAccessUnit) * time.Second / time.Duration(pkt.SampleRate)
	s = &astimuxer.Sample{
		Duration: d,
		PTS:      time.Duration(r.idx) * d,
	}
	if s.Data, err = (mpeg4audio.ADTSPackets{pkt}).Marshal(); err != nil {
		err = fmt.Errorf("main: marshaling adts failed: %w", err)
		return
	}
	r.idx++
	return
}

type amrReader struct {
	b   []byte
	idx int
	pos int
	wb  bool
}

func newAMRReader(b []byte) (*amrReader, error) {
	switch {
	case bytes.HasPrefix(b, astipipeline.AMRWBHeader):
		return &amrReader{b: b, pos: len(astipipeline.AMRWBHeader), wb: true}, nil
	case bytes.HasPrefix(b, astipipeline.AMRNBHeader):
		return &amrReader{b: b, pos: len(astipipeline.AMRNBHeader)}, nil
	}
	return nil, fmt.Errorf("main: invalid amr header")
}

func (r *amrReader) format() astimuxer.MediaFormat {
	if r.wb {
		return astimuxer.MediaFormat{
			Audio:    &astimuxer.AudioInfo{Channels: 1, SampleRate: 16000},
			MimeType: astimuxer.MimeTypeAMRWB,
		}
	}
	return astimuxer.MediaFormat{
		Audio:    &astimuxer.AudioInfo{Channels: 1, SampleRate: 8000},
		MimeType: astimuxer.MimeTypeAMRNB,
	}
}

func (r *amrReader) next() (s *astimuxer.Sample, err error) {
	// EOF
	if r.pos >= len(r.b) {
		return nil, io.EOF
	}

	// Get frame size
	n := astipipeline.AMRFrameSize(r.wb, r.b[r.pos])
	if n == 0 || r.pos+n > len(r.b) {
		return nil, fmt.Errorf("main: invalid amr frame at position %d", r.pos)
	}

	// Create sample
	s = &astimuxer.Sample{
		Data:     r.b[r.pos : r.pos+n],
		Duration: 20 * time.Millisecond,
		PTS:      time.Duration(r.idx) * 20 * time.Millisecond,
	}
	r.pos += n
	r.idx++
	return
}

// Number of PCM frames per sample
const wavFramesPerSample = 1024

type wavReader struct {
	bitDepth   int
	channels   int
	data       []byte
	idx        int
	pos        int
	sampleRate int
}

func newWAVReader(b []byte) (r *wavReader, err error) {
	// Check header
	if len(b) < 12 || string(b[:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("main: invalid wav header")
	}

	// Loop through chunks
	r = &wavReader{}
	for pos := 12; pos+8 <= len(b); {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8
		if pos+size > len(b) {
			size = len(b) - pos
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("main: fmt chunk is too small")
			}
			r.channels = int(binary.LittleEndian.Uint16(b[pos+2:]))
			r.sampleRate = int(binary.LittleEndian.Uint32(b[pos+4:]))
			r.bitDepth = int(binary.LittleEndian.Uint16(b[pos+14:]))
		case "data":
			r.data = b[pos : pos+size]
		}
		pos += size + size%2
	}

	// Check
	if r.channels == 0 || r.sampleRate == 0 || r.bitDepth == 0 {
		return nil, fmt.Errorf("main: no fmt chunk found")
	} else if r.bitDepth%8 > 0 {
		return nil, fmt.Errorf("main: bit depth %d is not supported", r.bitDepth)
	}
	return
}

func (r *wavReader) format() astimuxer.MediaFormat {
	return astimuxer.MediaFormat{
		Audio: &astimuxer.AudioInfo{
			BitDepth:   r.bitDepth,
			Channels:   r.channels,
			SampleRate: r.sampleRate,
		},
		MimeType: astimuxer.MimeTypePCM,
	}
}

func (r *wavReader) next() (s *astimuxer.Sample, err error) {
	// EOF
	if r.pos >= len(r.data) {
		return nil, io.EOF
	}

	// Get chunk
	n := wavFramesPerSample * r.channels * r.bitDepth / 8
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}

	// Create sample
	frames := n / (r.channels * r.bitDepth / 8)
	s = &astimuxer.Sample{
		Data:     r.data[r.pos : r.pos+n],
		Duration: time.Duration(frames) * time.Second / time.Duration(r.sampleRate),
		PTS:      time.Duration(r.idx*wavFramesPerSample) * time.Second / time.Duration(r.sampleRate),
	}
	r.pos += n
	r.idx++
	return
}
