package astipipeline

import "time"

// State represents a pipeline or element state
type State int

// States
const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Codec represents a stream codec
type Codec string

// Codecs
const (
	CodecAAC        Codec = "audio/aac"
	CodecAMRNB      Codec = "audio/amr-nb"
	CodecAMRWB      Codec = "audio/amr-wb"
	CodecH263       Codec = "video/h263"
	CodecH264       Codec = "video/h264"
	CodecMPEG4Video Codec = "video/mpeg4"
	CodecPCM        Codec = "audio/pcm"
)

// IsVideo returns true if the codec is a video codec
func (c Codec) IsVideo() bool {
	switch c {
	case CodecH263, CodecH264, CodecMPEG4Video:
		return true
	}
	return false
}

// Caps represents the active configuration of a stream
type Caps struct {
	BitDepth   int
	Channels   int
	Codec      Codec
	CodecData  []byte
	FrameRate  int
	Height     int
	SampleRate int
	Width      int
}

// Clone returns a deep copy of the caps
func (c Caps) Clone() Caps {
	if c.CodecData != nil {
		c.CodecData = append([]byte{}, c.CodecData...)
	}
	return c
}

// BufferFlags represents buffer flags
type BufferFlags uint8

// Buffer flags
const (
	BufferFlagKeyFrame BufferFlags = 1 << iota
	BufferFlagCodecConfig
)

// Buffer represents a timestamped chunk of encoded data
type Buffer struct {
	Data     []byte
	DTS      time.Duration
	Duration time.Duration
	Flags    BufferFlags
	PTS      time.Duration
}

// KeyFrame returns true if the buffer is flagged as a key frame
func (b *Buffer) KeyFrame() bool { return b.Flags&BufferFlagKeyFrame > 0 }

// Handler represents an object that can handle a stream
type Handler interface {
	HandleBuffer(b *Buffer) error
	HandleCaps(c Caps) error
	HandleEOS() error
}

// Linker represents an object that can forward a stream downstream
type Linker interface {
	Link(h Handler) error
}

// ElementMetadata represents element metadata
type ElementMetadata struct {
	Description string
	Kind        string
	Label       string
	Name        string
}

// Element represents a pipeline element
type Element interface {
	Metadata() ElementMetadata
	SetState(s State) error
}
