package astimuxer

import (
	"sync"

	"go.uber.org/multierr"
)

// CloseFunc is a method that closes something
type CloseFunc func() error

// Closer runs close funcs in reverse order of addition. It can be closed several times,
// close funcs being forgotten once run.
type Closer struct {
	fs []CloseFunc
	m  *sync.Mutex
}

func newCloser() *Closer {
	return &Closer{m: &sync.Mutex{}}
}

// Close implements the io.Closer interface
func (c *Closer) Close() (err error) {
	// Get close funcs
	c.m.Lock()
	fs := c.fs
	c.fs = nil
	c.m.Unlock()

	// Loop through close funcs
	for _, f := range fs {
		err = multierr.Append(err, f())
	}
	return
}

// Add adds a close func at the beginning of the list
func (c *Closer) Add(f CloseFunc) {
	c.m.Lock()
	defer c.m.Unlock()
	c.fs = append([]CloseFunc{f}, c.fs...)
}
