package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/fleetsim/internal/dispatcher"

// instruments are created on the global meter provider, which is a no-op
// until the otel package installs one.
type instruments struct {
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	duration  metric.Float64Histogram
}

// newInstruments registers the dispatcher metrics. queueLens is polled on
// every collection and reports the backlog per buffered command.
func newInstruments(queueLens func() map[string]int) (*instruments, error) {
	m := otel.Meter(instrumentationName)
	in := &instruments{}

	var err error
	in.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for cmd, n := range queueLens() {
			o.ObserveInt64(in.queueSize, int64(n), metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, in.queueSize)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	if in.processed, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Total events processed")); err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	if in.dropped, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if in.duration, err = m.Float64Histogram("dispatcher.command.duration",
		metric.WithDescription("Time spent in command handlers"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	return in, nil
}

func (in *instruments) recordDuration(command string, d time.Duration, err error) {
	in.duration.Record(context.Background(), float64(d.Microseconds())/1000, metric.WithAttributes(
		attribute.String("command", command),
		attribute.Bool("error", err != nil),
	))
}
