package astimuxer

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astikit"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Stat names
const (
	StatNameHost            = "astimuxer.host"
	StatNameIncomingBytes   = "astimuxer.incoming.bytes"
	StatNameIncomingSamples = "astimuxer.incoming.samples"
)

// EventStat represents a stat event
type EventStat struct {
	Description string
	Label       string
	Name        string
	Target      interface{}
	Unit        string
	Value       interface{}
}

// Stater represents an object that can compute and handle stats
type Stater struct {
	eh *EventHandler
	m  *sync.Mutex                           // Locks ts
	ts map[*astikit.StatMetadata]interface{} // Targets indexed by stats metadata
	s  *astikit.Stater
}

// NewStater creates a new stater
func NewStater(period time.Duration, eh *EventHandler) (s *Stater) {
	s = &Stater{
		eh: eh,
		m:  &sync.Mutex{},
		ts: make(map[*astikit.StatMetadata]interface{}),
	}
	s.s = astikit.NewStater(astikit.StaterOptions{
		HandleFunc: s.handle,
		Period:     period,
	})
	return
}

// AddStats adds stats
func (s *Stater) AddStats(target interface{}, os ...astikit.StatOptions) {
	s.m.Lock()
	defer s.m.Unlock()
	for _, o := range os {
		s.ts[o.Metadata] = target
	}
	s.s.AddStats(os...)
}

// DelStats deletes stats
func (s *Stater) DelStats(target interface{}, os ...astikit.StatOptions) {
	s.m.Lock()
	defer s.m.Unlock()
	for _, o := range os {
		delete(s.ts, o.Metadata)
	}
	s.s.DelStats(os...)
}

// AddHostStats adds stats about the muxer process and the host it runs on
func (s *Stater) AddHostStats() {
	s.AddStats(nil, astikit.StatOptions{
		Handler: newStatHost(int32(os.Getpid())),
		Metadata: &astikit.StatMetadata{
			Description: "Muxer process usage and host load",
			Label:       "Host",
			Name:        StatNameHost,
		},
	})
}

// Start starts the stater. It's blocking.
func (s *Stater) Start(ctx context.Context) { s.s.Start(ctx) }

// Stop stops the stater
func (s *Stater) Stop() { s.s.Stop() }

func (s *Stater) handle(stats []astikit.StatValue) {
	// Loop through stats
	ss := []EventStat{}
	for _, stat := range stats {
		// Get target
		s.m.Lock()
		t, ok := s.ts[stat.StatMetadata]
		s.m.Unlock()

		// No target or stat is not running
		if !ok || stat.Value == nil {
			continue
		}

		// Append
		ss = append(ss, EventStat{
			Description: stat.Description,
			Label:       stat.Label,
			Name:        stat.Name,
			Target:      t,
			Unit:        stat.Unit,
			Value:       stat.Value,
		})
	}

	// Nothing to send
	if len(ss) == 0 {
		return
	}

	// Host stats first, then by track
	sort.SliceStable(ss, func(i, j int) bool {
		return statTargetIndex(ss[i].Target) < statTargetIndex(ss[j].Target)
	})

	// Send event
	s.eh.Emit(Event{
		Name:    EventNameStats,
		Payload: ss,
	})
}

func statTargetIndex(t interface{}) int {
	if v, ok := t.(*Track); ok {
		return v.Index()
	}
	return -1
}

// statHost samples the muxer process and the host when running
type statHost struct {
	p       *process.Process
	running uint32
}

func newStatHost(pid int32) *statHost {
	s := &statHost{}
	s.p, _ = process.NewProcess(pid)
	return s
}

func (s *statHost) Start() { atomic.StoreUint32(&s.running, 1) }

func (s *statHost) Stop() { atomic.StoreUint32(&s.running, 0) }

// StatHostValue is the value of the host stat
type StatHostValue struct {
	HostLoad       float64 `json:"host_load"`
	HostMemoryUsed float64 `json:"host_memory_used"`
	ProcessCPU     float64 `json:"process_cpu"`
	ProcessRSS     uint64  `json:"process_rss"`
}

func (s *statHost) Value(_ time.Duration) interface{} {
	if atomic.LoadUint32(&s.running) == 0 {
		return nil
	}
	var v StatHostValue
	if s.p != nil {
		if c, err := s.p.Percent(0); err == nil {
			v.ProcessCPU = c
		}
		if i, err := s.p.MemoryInfo(); err == nil {
			v.ProcessRSS = i.RSS
		}
	}
	if l, err := load.Avg(); err == nil {
		v.HostLoad = l.Load1
	}
	if m, err := mem.VirtualMemory(); err == nil {
		v.HostMemoryUsed = m.UsedPercent
	}
	return v
}
