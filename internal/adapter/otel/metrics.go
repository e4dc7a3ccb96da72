package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "convoy"

// Metrics holds all Convoy metric instruments.
type Metrics struct {
	SignalsMerged   metric.Int64Counter
	SignalsNoop     metric.Int64Counter
	PollFailures    metric.Int64Counter
	Overrides       metric.Int64Counter
	AgentsLaunched  metric.Int64Counter
	MergeDuration   metric.Float64Histogram
	WaitingDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SignalsMerged, err = meter.Int64Counter("convoy.signals.merged",
		metric.WithDescription("Number of signal merges that changed a run"))
	if err != nil {
		return nil, err
	}

	m.SignalsNoop, err = meter.Int64Counter("convoy.signals.noop",
		metric.WithDescription("Number of signal merges that were no-ops"))
	if err != nil {
		return nil, err
	}

	m.PollFailures, err = meter.Int64Counter("convoy.poll.failures",
		metric.WithDescription("Number of failed signal source polls"))
	if err != nil {
		return nil, err
	}

	m.Overrides, err = meter.Int64Counter("convoy.overrides",
		metric.WithDescription("Number of manual override actions applied"))
	if err != nil {
		return nil, err
	}

	m.AgentsLaunched, err = meter.Int64Counter("convoy.agents.launched",
		metric.WithDescription("Number of agents launched"))
	if err != nil {
		return nil, err
	}

	m.MergeDuration, err = meter.Float64Histogram("convoy.merge.duration_seconds",
		metric.WithDescription("Signal merge and persist duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.WaitingDuration, err = meter.Float64Histogram("convoy.waiting.duration_seconds",
		metric.WithDescription("Time runs spend waiting for a branch change after a followup"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
