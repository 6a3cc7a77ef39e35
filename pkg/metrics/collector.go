package metrics

import (
	"context"
	"time"
)

// ExecutionCounter reports the current number of executions per status.
type ExecutionCounter interface {
	CountExecutionsByStatus(ctx context.Context) (map[string]int64, error)
}

// AgentCounter reports the current number of agents per status.
type AgentCounter interface {
	CountAgentsByStatus(ctx context.Context) (map[string]int64, error)
}

// ConnectionCounter reports the number of currently attached cluster sessions.
type ConnectionCounter interface {
	Len() int
}

// Collector periodically pulls domain state into the registered gauges.
type Collector struct {
	executions ExecutionCounter
	agents     AgentCounter
	sessions   ConnectionCounter
	stopCh     chan struct{}
}

// NewCollector creates a new metrics collector over the given sources.
func NewCollector(executions ExecutionCounter, agents AgentCounter, sessions ConnectionCounter) *Collector {
	return &Collector{
		executions: executions,
		agents:     agents,
		sessions:   sessions,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15 second interval.
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
	c.collectExecutionMetrics()
	c.collectAgentMetrics()
	c.collectSessionMetrics()
}

func (c *Collector) collectExecutionMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.executions.CountExecutionsByStatus(ctx)
	if err != nil {
		return
	}
	for status, count := range counts {
		ExecutionsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectAgentMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	counts, err := c.agents.CountAgentsByStatus(ctx)
	if err != nil {
		return
	}
	for status, count := range counts {
		AgentsTotal.WithLabelValues(status).Set(float64(count))
	}
}

func (c *Collector) collectSessionMetrics() {
	AttachedClustersTotal.Set(float64(c.sessions.Len()))
}
