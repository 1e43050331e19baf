package metrics

import (
	"context"
	"time"

	"github.com/cuemby/theater/pkg/types"
)

// ActorTable is the slice of *supervisor.Supervisor that Collector needs.
// It is declared here, rather than importing pkg/supervisor directly, so
// that pkg/supervisor (which increments RestartsTotal) does not form an
// import cycle with this package.
type ActorTable interface {
	ListActors(ctx context.Context) ([]types.ActorID, error)
	GetActorStatus(ctx context.Context, id types.ActorID) (types.ActorStatus, error)
}

// Collector periodically samples the supervisor's actor table into the
// ActorsTotal gauge. Counters (spawned/failed/restarts/etc.) are incremented
// inline by the packages that own those events; Collector only owns the
// point-in-time snapshots that must be recomputed (actor counts by phase).
type Collector struct {
	supervisor ActorTable
	stopCh     chan struct{}
}

// NewCollector creates a new metrics collector over sv (typically a
// *supervisor.Supervisor).
func NewCollector(sv ActorTable) *Collector {
	return &Collector{
		supervisor: sv,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second interval.
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectActorMetrics()
}

func (c *Collector) collectActorMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ids, err := c.supervisor.ListActors(ctx)
	if err != nil {
		return
	}

	phaseCounts := make(map[string]int)
	for _, id := range ids {
		status, err := c.supervisor.GetActorStatus(ctx, id)
		if err != nil {
			continue
		}
		phaseCounts[string(status.Phase)]++
	}

	ActorsTotal.Reset()
	for phase, count := range phaseCounts {
		ActorsTotal.WithLabelValues(phase).Set(float64(count))
	}
}
