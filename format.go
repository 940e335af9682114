package astimuxer

import (
	"fmt"
	"strings"
	"time"

	astipipeline "github.com/asticode/go-astimuxer/pipeline"
)

// ContainerFormat represents an output container
type ContainerFormat int

// Container formats
const (
	ContainerFormatUnknown ContainerFormat = iota
	ContainerFormatMP4
	ContainerFormat3GP
	ContainerFormatWAV
	ContainerFormatADTS
	ContainerFormatAMRNB
	ContainerFormatAMRWB
)

func (f ContainerFormat) String() string {
	switch f {
	case ContainerFormatMP4:
		return "mp4"
	case ContainerFormat3GP:
		return "3gp"
	case ContainerFormatWAV:
		return "wav"
	case ContainerFormatADTS:
		return "adts"
	case ContainerFormatAMRNB:
		return "amr-nb"
	case ContainerFormatAMRWB:
		return "amr-wb"
	default:
		return "unknown"
	}
}

// MarshalText implements the encoding.TextMarshaler interface
func (f ContainerFormat) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// ParseContainerFormat parses a container name or file extension
func ParseContainerFormat(s string) (ContainerFormat, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "mp4", "m4a":
		return ContainerFormatMP4, nil
	case "3gp", "3gpp":
		return ContainerFormat3GP, nil
	case "wav":
		return ContainerFormatWAV, nil
	case "aac", "adts":
		return ContainerFormatADTS, nil
	case "amr", "amr-nb":
		return ContainerFormatAMRNB, nil
	case "amr-wb", "awb":
		return ContainerFormatAMRWB, nil
	}
	return ContainerFormatUnknown, newError(ErrorCodeInvalidParameter, nil, "unknown container format %s", s)
}

func (f ContainerFormat) muxerKind() string {
	switch f {
	case ContainerFormatMP4:
		return astipipeline.ElementKindMP4Mux
	case ContainerFormat3GP:
		return astipipeline.ElementKindThreeGPPMux
	case ContainerFormatWAV:
		return astipipeline.ElementKindWavEnc
	case ContainerFormatADTS:
		return astipipeline.ElementKindADTSMux
	case ContainerFormatAMRNB, ContainerFormatAMRWB:
		return astipipeline.ElementKindAMRMux
	}
	return ""
}

// MediaType represents a track media type
type MediaType int

// Media types. Values are the ordinals used to compute track indexes.
const (
	MediaTypeVideo MediaType = iota
	MediaTypeAudio
	MediaTypeSubtitle
)

const mediaTypeCount = 3

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// MarshalText implements the encoding.TextMarshaler interface
func (t MediaType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// MimeType represents a codec with its profile
type MimeType string

// Mime types
const (
	MimeTypeAACHE    MimeType = "audio/aac-he"
	MimeTypeAACHEPS  MimeType = "audio/aac-he-ps"
	MimeTypeAACLC    MimeType = "audio/aac-lc"
	MimeTypeAMRNB    MimeType = "audio/amr-nb"
	MimeTypeAMRWB    MimeType = "audio/amr-wb"
	MimeTypeH263     MimeType = "video/h263"
	MimeTypeH264HP   MimeType = "video/h264-hp"
	MimeTypeH264MP   MimeType = "video/h264-mp"
	MimeTypeH264SP   MimeType = "video/h264-sp"
	MimeTypeMPEG4SP  MimeType = "video/mpeg4-sp"
	MimeTypePCM      MimeType = "audio/pcm"
	MimeTypeText3GPP MimeType = "text/3gpp"
)

func (m MimeType) codec() astipipeline.Codec {
	switch m {
	case MimeTypeAACHE, MimeTypeAACHEPS, MimeTypeAACLC:
		return astipipeline.CodecAAC
	case MimeTypeAMRNB:
		return astipipeline.CodecAMRNB
	case MimeTypeAMRWB:
		return astipipeline.CodecAMRWB
	case MimeTypeH263:
		return astipipeline.CodecH263
	case MimeTypeH264HP, MimeTypeH264MP, MimeTypeH264SP:
		return astipipeline.CodecH264
	case MimeTypeMPEG4SP:
		return astipipeline.CodecMPEG4Video
	case MimeTypePCM:
		return astipipeline.CodecPCM
	}
	return ""
}

// VideoInfo represents video parameters
type VideoInfo struct {
	AverageBitRate int
	FrameRate      int
	Height         int
	Width          int
}

// AudioInfo represents audio parameters
type AudioInfo struct {
	AverageBitRate int
	BitDepth       int
	Channels       int
	SampleRate     int
}

// TextInfo represents subtitle parameters
type TextInfo struct {
	Language string
}

// MediaFormat describes a track. Exactly one of Audio, Text or Video is expected: the
// first one set in the order Video, Audio, Text gives the media type.
type MediaFormat struct {
	Audio    *AudioInfo
	MimeType MimeType
	Text     *TextInfo
	Video    *VideoInfo
}

// Clone returns a deep copy of the format
func (f MediaFormat) Clone() MediaFormat {
	if f.Audio != nil {
		a := *f.Audio
		f.Audio = &a
	}
	if f.Text != nil {
		t := *f.Text
		f.Text = &t
	}
	if f.Video != nil {
		v := *f.Video
		f.Video = &v
	}
	return f
}

func (f MediaFormat) mediaType() (MediaType, error) {
	switch {
	case f.Video != nil:
		return MediaTypeVideo, nil
	case f.Audio != nil:
		return MediaTypeAudio, nil
	case f.Text != nil:
		return MediaTypeSubtitle, nil
	}
	return 0, newError(ErrorCodeInvalidParameter, nil, "format %s has neither video, audio nor text info", f.MimeType)
}

func (f MediaFormat) caps() (c astipipeline.Caps) {
	c.Codec = f.MimeType.codec()
	if f.Audio != nil {
		c.BitDepth = f.Audio.BitDepth
		c.Channels = f.Audio.Channels
		c.SampleRate = f.Audio.SampleRate
	}
	if f.Video != nil {
		c.FrameRate = f.Video.FrameRate
		c.Height = f.Video.Height
		c.Width = f.Video.Width
	}
	return
}

func (f MediaFormat) String() string {
	switch {
	case f.Video != nil:
		return fmt.Sprintf("%s %dx%d@%d", f.MimeType, f.Video.Width, f.Video.Height, f.Video.FrameRate)
	case f.Audio != nil:
		return fmt.Sprintf("%s %dHz %dch", f.MimeType, f.Audio.SampleRate, f.Audio.Channels)
	}
	return string(f.MimeType)
}

// SampleFlags represents sample flags
type SampleFlags uint8

// Sample flags
const (
	SampleFlagKeyFrame SampleFlags = 1 << iota
	SampleFlagCodecConfig
	SampleFlagEndOfStream
)

// Sample represents an encoded access unit
type Sample struct {
	// Nil means unchanged
	CodecData []byte
	Data      []byte
	// Zero means equal to PTS
	DTS      time.Duration
	Duration time.Duration
	Flags    SampleFlags
	// Empty means the track's
	MimeType MimeType
	PTS      time.Duration
}

func (s *Sample) buffer() *astipipeline.Buffer {
	b := &astipipeline.Buffer{
		Data:     append([]byte{}, s.Data...),
		DTS:      s.DTS,
		Duration: s.Duration,
		PTS:      s.PTS,
	}
	if b.DTS == 0 {
		b.DTS = s.PTS
	}
	if s.Flags&SampleFlagKeyFrame > 0 {
		b.Flags |= astipipeline.BufferFlagKeyFrame
	}
	if s.Flags&SampleFlagCodecConfig > 0 {
		b.Flags |= astipipeline.BufferFlagCodecConfig
	}
	return b
}
