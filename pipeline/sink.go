package astipipeline

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// FileSink writes everything it receives to a file created when going ready
type FileSink struct {
	f        *os.File
	location string
	m        *sync.Mutex // Locks f, location and state
	md       ElementMetadata
	state    State
}

func newFileSink(p *Pipeline, md ElementMetadata) (Element, error) {
	md.Description = "Writes to a file"
	md.Label = fmt.Sprintf("File sink %s", md.Name)
	return &FileSink{
		m:  &sync.Mutex{},
		md: md,
	}, nil
}

// Metadata implements the Element interface
func (s *FileSink) Metadata() ElementMetadata { return s.md }

// SetLocation sets the file path
func (s *FileSink) SetLocation(path string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.state != StateNull {
		return newCoreError(CoreErrorStateChange, "%s: setting location in state %s", s.md.Name, s.state)
	}
	s.location = path
	return nil
}

// Location returns the file path
func (s *FileSink) Location() string {
	s.m.Lock()
	defer s.m.Unlock()
	return s.location
}

// SetState implements the Element interface
func (s *FileSink) SetState(st State) (err error) {
	s.m.Lock()
	defer s.m.Unlock()
	switch {
	case s.state == StateNull && st == StateReady:
		if s.location == "" {
			return newError(ErrorDomainResource, ResourceErrorNotFound, fmt.Errorf("%s: no location", s.md.Name))
		}
		if s.f, err = os.Create(s.location); err != nil {
			return newResourceError(err, ResourceErrorOpenWrite, "astipipeline: %s: creating %s failed", s.md.Name, s.location)
		}
	case s.state == StateReady && st == StateNull:
		if s.f != nil {
			err = s.f.Close()
			s.f = nil
			if err != nil {
				err = newResourceError(err, ResourceErrorClose, "astipipeline: %s: closing %s failed", s.md.Name, s.location)
			}
		}
	}
	s.state = st
	return
}

// Write implements the io.Writer interface
func (s *FileSink) Write(p []byte) (n int, err error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.f == nil {
		return 0, newStreamError(StreamErrorFlushing, "%s is not open", s.md.Name)
	}
	if n, err = s.f.Write(p); err != nil {
		err = newResourceError(err, ResourceErrorWrite, "astipipeline: %s: writing to %s failed", s.md.Name, s.location)
	}
	return
}

// Seek implements the io.Seeker interface
func (s *FileSink) Seek(offset int64, whence int) (n int64, err error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.f == nil {
		return 0, newStreamError(StreamErrorFlushing, "%s is not open", s.md.Name)
	}
	if n, err = s.f.Seek(offset, whence); err != nil {
		err = newResourceError(err, ResourceErrorSeek, "astipipeline: %s: seeking in %s failed", s.md.Name, s.location)
	}
	return
}

var _ io.WriteSeeker = (*FileSink)(nil)
