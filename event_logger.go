package astimuxer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/asticode/go-astikit"
)

type logLevel string

const (
	logLevelDebug logLevel = "debug"
	logLevelError logLevel = "error"
	logLevelInfo  logLevel = "info"
	logLevelWarn  logLevel = "warn"
)

// Interval at which merged messages are checked
const eventLoggerTickPeriod = 200 * time.Millisecond

// EventLogger logs events. When message merging is enabled, the first message of a key is
// written right away and its repetitions are counted and written once the merging period
// is over.
type EventLogger struct {
	cancel context.CancelFunc
	is     map[eventLoggerKey]*eventLoggerItem
	l      astikit.CompleteLogger
	m      *sync.Mutex // Locks is
	period time.Duration
}

type eventLoggerKey struct {
	key   string
	level logLevel
}

type eventLoggerItem struct {
	at      time.Time
	key     eventLoggerKey
	last    string
	repeats int
}

func newEventLogger(l astikit.StdLogger) *EventLogger {
	return &EventLogger{
		is: make(map[eventLoggerKey]*eventLoggerItem),
		l:  astikit.AdaptStdLogger(l),
		m:  &sync.Mutex{},
	}
}

// Start flushes merged messages periodically until ctx is done or Close is called
func (l *EventLogger) Start(ctx context.Context) *EventLogger {
	ctx, l.cancel = context.WithCancel(ctx)
	if l.period <= 0 {
		return l
	}
	go func() {
		t := time.NewTicker(eventLoggerTickPeriod)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				l.flush(false)
			case <-ctx.Done():
				return
			}
		}
	}()
	return l
}

// Close stops the periodic flush and writes pending repetitions
func (l *EventLogger) Close() {
	if l.cancel != nil {
		l.cancel()
	}
	l.flush(true)
}

func (l *EventLogger) flush(all bool) {
	// Collect due items
	l.m.Lock()
	var is []*eventLoggerItem
	n := time.Now()
	for k, i := range l.is {
		if all || n.Sub(i.at) > l.period {
			is = append(is, i)
			delete(l.is, k)
		}
	}
	l.m.Unlock()

	// Write in the order keys were first seen
	sort.Slice(is, func(a, b int) bool { return is[a].at.Before(is[b].at) })
	for _, i := range is {
		switch {
		case i.repeats == 1:
			l.write(i.key.level, i.last+" (repeated once)")
		case i.repeats > 1:
			l.write(i.key.level, fmt.Sprintf("%s (repeated %d times)", i.key.key, i.repeats))
		}
	}
}

func (l *EventLogger) log(lv logLevel, key, msg string) {
	if l.period > 0 && l.merged(eventLoggerKey{key: key, level: lv}, msg) {
		return
	}
	l.write(lv, msg)
}

// merged returns true if msg is a repetition of a key seen within the merging period
func (l *EventLogger) merged(k eventLoggerKey, msg string) bool {
	l.m.Lock()
	defer l.m.Unlock()
	if i, ok := l.is[k]; ok {
		i.last = msg
		i.repeats++
		return true
	}
	l.is[k] = &eventLoggerItem{
		at:  time.Now(),
		key: k,
	}
	return false
}

func (l *EventLogger) write(lv logLevel, msg string) {
	switch lv {
	case logLevelDebug:
		l.l.Debug(msg)
	case logLevelError:
		l.l.Error(msg)
	case logLevelWarn:
		l.l.Warn(msg)
	default:
		l.l.Info(msg)
	}
}

// Debugf logs a debug message
func (l *EventLogger) Debugf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.log(logLevelDebug, msg, msg)
}

// Errorf logs an error message
func (l *EventLogger) Errorf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.log(logLevelError, msg, msg)
}

// Infof logs an info message
func (l *EventLogger) Infof(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.log(logLevelInfo, msg, msg)
}

// Warnf logs a warning
func (l *EventLogger) Warnf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.log(logLevelWarn, msg, msg)
}

// errork logs an error merged with other errors sharing key
func (l *EventLogger) errork(key, msg string) {
	l.log(logLevelError, key, msg)
}
