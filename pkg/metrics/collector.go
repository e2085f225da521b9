package metrics

import (
	"time"

	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// SessionCounter reports how many runner sessions are live
type SessionCounter interface {
	SessionTotal() int
}

// Collector periodically refreshes the state gauges from the store and the
// runner bridge.
type Collector struct {
	store    storage.Store
	sessions SessionCounter
	stopCh   chan struct{}
}

// NewCollector creates a metrics collector
func NewCollector(store storage.Store, sessions SessionCounter) *Collector {
	return &Collector{
		store:    store,
		sessions: sessions,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectProjects()
	c.collectRuns()
	c.collectLedger()

	if c.sessions != nil {
		RunnerSessions.Set(float64(c.sessions.SessionTotal()))
	}
}

func (c *Collector) collectProjects() {
	projects, err := c.store.ListProjects()
	if err != nil {
		return
	}
	ProjectsTotal.Set(float64(len(projects)))
}

func (c *Collector) collectRuns() {
	projects, err := c.store.ListProjects()
	if err != nil {
		return
	}

	counts := make(map[types.RunState]int)
	for _, p := range projects {
		runs, err := c.store.ListRunsByProject(p.ID)
		if err != nil {
			continue
		}
		for _, r := range runs {
			counts[r.State]++
		}
	}

	for _, state := range []types.RunState{
		types.RunStateInit, types.RunStateRunning, types.RunStatePaused,
		types.RunStateFailed, types.RunStateCancelled, types.RunStateDone,
	} {
		RunsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *Collector) collectLedger() {
	events, err := c.store.AllEvents()
	if err != nil {
		return
	}
	LedgerEvents.Set(float64(len(events)))
}
