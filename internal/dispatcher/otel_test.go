package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collect installs a manual reader as the global meter provider for the test.
func collect(t *testing.T) func() map[string]metricdata.Aggregation {
	t.Helper()
	prev := otel.GetMeterProvider()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	return func() map[string]metricdata.Aggregation {
		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		out := map[string]metricdata.Aggregation{}
		for _, sm := range rm.ScopeMetrics {
			for _, m := range sm.Metrics {
				out[m.Name] = m.Data
			}
		}
		return out
	}
}

func TestMetrics_CommandDurationAndQueue(t *testing.T) {
	read := collect(t)

	d, err := New(&recordingLogger{})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	d.Register(":SIM:TICK:", func(Event) (any, error) { return "ok", nil })
	d.Register(":WAYPOINT:ADD:", func(Event) (any, error) { return nil, errors.New("bad form") })
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	d.Register(":SIM:START:", func(Event) (any, error) { <-block; return nil, nil }, Buffered(4))

	_, _ = d.Dispatch(Event{Command: ":SIM:TICK:"})
	_, _ = d.Dispatch(Event{Command: ":SIM:TICK:"})
	_, _ = d.Dispatch(Event{Command: ":WAYPOINT:ADD:"})
	_, _ = d.Dispatch(Event{Command: ":SIM:START:"})
	_, _ = d.Dispatch(Event{Command: ":SIM:START:"})

	data := read()
	hist, ok := data["dispatcher.command.duration"].(metricdata.Histogram[float64])
	require.True(t, ok, "duration histogram missing")
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(5), count)

	gauge, ok := data["dispatcher.queue.size"].(metricdata.Gauge[int64])
	require.True(t, ok, "queue gauge missing")
	require.Len(t, gauge.DataPoints, 1)
	// one event is held by the worker, the other waits in the queue
	assert.GreaterOrEqual(t, gauge.DataPoints[0].Value, int64(1))
}
