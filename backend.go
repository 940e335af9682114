package astimuxer

import (
	astipipeline "github.com/asticode/go-astimuxer/pipeline"
)

// Backend names
const (
	BackendNameCustom   = "custom"
	BackendNameFFMpeg   = "ffmpeg"
	BackendNamePipeline = "pipeline"
)

// BackendState represents the state of the backend pipeline
type BackendState int

// Backend states
const (
	BackendStateNull BackendState = iota
	BackendStateReady
	BackendStatePaused
	BackendStatePlaying
)

func (s BackendState) String() string {
	switch s {
	case BackendStateNull:
		return "null"
	case BackendStateReady:
		return "ready"
	case BackendStatePaused:
		return "paused"
	case BackendStatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// BackendPrepareOptions represents what a backend needs to build its pipeline
type BackendPrepareOptions struct {
	Format ContainerFormat
	Path   string
	Tracks []*Track
}

// BackendMessageHandler handles asynchronous backend errors
type BackendMessageHandler func(err error)

// Backend builds and drives the pipeline writing the container.
// Every method is mandatory: backends that can't do something embed UnsupportedBackend.
type Backend interface {
	// AddTrack is called once the track has been accepted by the muxer
	AddTrack(t *Track) error
	// Endpoint returns the ingestion endpoint of a track once prepared
	Endpoint(index int) (Endpoint, error)
	Name() string
	Pause() error
	Prepare(o BackendPrepareOptions) error
	Resume() error
	// SetDataSink validates that path can be written to
	SetDataSink(path string, format ContainerFormat) error
	SetMessageHandler(h BackendMessageHandler)
	Start() error
	State() BackendState
	Stop() error
	Unprepare() error
}

// Endpoint is the ingestion side of a track
type Endpoint interface {
	EndOfStream() error
	Push(b *astipipeline.Buffer) error
	SetCaps(codecData []byte) error
	// SetFeedHandlers sets the callbacks invoked when the endpoint needs data and when it has enough
	SetFeedHandlers(need, enough func())
}

// UnsupportedBackend is a backend that supports nothing
type UnsupportedBackend struct{}

func errNotSupported(op string) error {
	return newError(ErrorCodeNotSupported, nil, "%s is not supported by this backend", op)
}

// AddTrack implements the Backend interface
func (UnsupportedBackend) AddTrack(*Track) error { return errNotSupported("adding a track") }

// Endpoint implements the Backend interface
func (UnsupportedBackend) Endpoint(int) (Endpoint, error) {
	return nil, errNotSupported("getting an endpoint")
}

// Name implements the Backend interface
func (UnsupportedBackend) Name() string { return "unsupported" }

// Pause implements the Backend interface
func (UnsupportedBackend) Pause() error { return errNotSupported("pausing") }

// Prepare implements the Backend interface
func (UnsupportedBackend) Prepare(BackendPrepareOptions) error { return errNotSupported("preparing") }

// Resume implements the Backend interface
func (UnsupportedBackend) Resume() error { return errNotSupported("resuming") }

// SetDataSink implements the Backend interface
func (UnsupportedBackend) SetDataSink(string, ContainerFormat) error {
	return errNotSupported("setting the data sink")
}

// SetMessageHandler implements the Backend interface
func (UnsupportedBackend) SetMessageHandler(BackendMessageHandler) {}

// Start implements the Backend interface
func (UnsupportedBackend) Start() error { return errNotSupported("starting") }

// State implements the Backend interface
func (UnsupportedBackend) State() BackendState { return BackendStateNull }

// Stop implements the Backend interface
func (UnsupportedBackend) Stop() error { return errNotSupported("stopping") }

// Unprepare implements the Backend interface
func (UnsupportedBackend) Unprepare() error { return errNotSupported("unpreparing") }

// customBackend is the placeholder for ports that are not implemented
type customBackend struct {
	UnsupportedBackend
	name string
}

// Name implements the Backend interface
func (b *customBackend) Name() string { return b.name }

func newBackend(name string, c Configuration, o MuxerOptions) (Backend, error) {
	switch name {
	case "", BackendNamePipeline:
		return newPipelineBackend(c.Pipeline, o.Logger), nil
	case BackendNameCustom, BackendNameFFMpeg:
		return &customBackend{name: name}, nil
	}
	return nil, newError(ErrorCodeInvalidOperation, nil, "unknown backend %s", name)
}
