package astimuxer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/asticode/go-astikit"
)

// EventName represents an event name
type EventName string

// Default event names
const (
	EventNameError       EventName = "astimuxer.error"
	EventNameMuxerState  EventName = "astimuxer.muxer.state"
	EventNameStats       EventName = "astimuxer.stats"
	EventNameTrackAdded  EventName = "astimuxer.track.added"
	EventNameTrackClosed EventName = "astimuxer.track.closed"
)

// Event is an event coming out of a muxer
type Event struct {
	Name    EventName
	Payload interface{}
	Target  interface{}
}

// EventError returns an error event
func EventError(target interface{}, err error) Event {
	return Event{
		Name:    EventNameError,
		Payload: err,
		Target:  target,
	}
}

// EventMuxerState is the payload of a muxer state event
type EventMuxerState struct {
	From State
	To   State
}

// EventHandler represents an event handler
type EventHandler struct {
	// Indexed by target then by event name then by listener idx
	// We use a map[int]Listener so that deletion is as smooth as possible
	cs  map[interface{}]map[EventName]map[int]EventCallback
	idx int
	m   *sync.Mutex
}

// EventCallback represents an event callback
type EventCallback func(e Event) (deleteListener bool)

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{
		cs: make(map[interface{}]map[EventName]map[int]EventCallback),
		m:  &sync.Mutex{},
	}
}

// Add adds a new callback for a specific target and event name
func (h *EventHandler) Add(target interface{}, eventName EventName, c EventCallback) {
	h.m.Lock()
	defer h.m.Unlock()
	if _, ok := h.cs[target]; !ok {
		h.cs[target] = make(map[EventName]map[int]EventCallback)
	}
	if _, ok := h.cs[target][eventName]; !ok {
		h.cs[target][eventName] = make(map[int]EventCallback)
	}
	h.idx++
	h.cs[target][eventName][h.idx] = c
}

// AddForEventName adds a new callback for a specific event name
func (h *EventHandler) AddForEventName(eventName EventName, c EventCallback) {
	h.Add(nil, eventName, c)
}

// AddForTarget adds a new callback for a specific target
func (h *EventHandler) AddForTarget(target interface{}, c EventCallback) {
	h.Add(target, "", c)
}

// AddForAll adds a new callback for all events
func (h *EventHandler) AddForAll(c EventCallback) {
	h.Add(nil, "", c)
}

func (h *EventHandler) del(target interface{}, eventName EventName, idx int) {
	h.m.Lock()
	defer h.m.Unlock()
	if _, ok := h.cs[target]; !ok {
		return
	}
	if _, ok := h.cs[target][eventName]; !ok {
		return
	}
	delete(h.cs[target][eventName], idx)
}

type eventHandlerCallback struct {
	c         EventCallback
	eventName EventName
	idx       int
	target    interface{}
}

func (h *EventHandler) callbacks(target interface{}, eventName EventName) (cs []eventHandlerCallback) {
	// Lock
	h.m.Lock()
	defer h.m.Unlock()

	// Index callbacks
	ics := make(map[int]eventHandlerCallback)
	var idxs []int
	targets := []interface{}{nil}
	if target != nil {
		targets = append(targets, target)
	}
	for _, target := range targets {
		if _, ok := h.cs[target]; ok {
			eventNames := []EventName{""}
			if eventName != "" {
				eventNames = append(eventNames, eventName)
			}
			for _, eventName := range eventNames {
				for idx, c := range h.cs[target][eventName] {
					ics[idx] = eventHandlerCallback{
						c:         c,
						eventName: eventName,
						idx:       idx,
						target:    target,
					}
					idxs = append(idxs, idx)
				}
			}
		}
	}

	// Sort
	sort.Ints(idxs)

	// Append
	for _, idx := range idxs {
		cs = append(cs, ics[idx])
	}
	return
}

// Emit emits an event
func (h *EventHandler) Emit(e Event) {
	for _, c := range h.callbacks(e.Target, e.Name) {
		if c.c(e) {
			h.del(c.target, c.eventName, c.idx)
		}
	}
}

// EventHandlerLogOption represents an event handler log option
type EventHandlerLogOption func(h *EventHandler, l *EventLogger)

// WithMessageMerging merges identical messages logged within period
func WithMessageMerging(period time.Duration) EventHandlerLogOption {
	return func(_ *EventHandler, l *EventLogger) {
		l.period = period
	}
}

func eventTargetName(t interface{}) string {
	switch v := t.(type) {
	case *Muxer:
		return v.ID()
	case *Track:
		return fmt.Sprintf("track %d", v.Index())
	case nil:
		return ""
	default:
		return fmt.Sprintf("%p", t)
	}
}

// Log logs events with l
func (h *EventHandler) Log(l astikit.StdLogger, os ...EventHandlerLogOption) (el *EventLogger) {
	// Create event logger
	el = newEventLogger(l)

	// Loop through options
	for _, o := range os {
		o(h, el)
	}

	// Error
	h.AddForEventName(EventNameError, func(e Event) bool {
		t := eventTargetName(e.Target)
		if len(t) > 0 {
			t = " (" + t + ")"
		}
		err := e.Payload.(error)
		el.errork(fmt.Sprintf("astimuxer: %s error%s", Code(err), t), fmt.Sprintf("%s%s", err, t))
		return false
	})

	// Muxer
	h.AddForEventName(EventNameMuxerState, func(e Event) bool {
		p := e.Payload.(EventMuxerState)
		el.Infof("astimuxer: muxer %s went from %s to %s", eventTargetName(e.Target), p.From, p.To)
		return false
	})

	// Track
	h.AddForEventName(EventNameTrackAdded, func(e Event) bool {
		t := e.Target.(*Track)
		el.Infof("astimuxer: track %d (%s) added", t.Index(), t.Format())
		return false
	})
	h.AddForEventName(EventNameTrackClosed, func(e Event) bool {
		el.Debugf("astimuxer: track %d closed", e.Target.(*Track).Index())
		return false
	})
	return
}
