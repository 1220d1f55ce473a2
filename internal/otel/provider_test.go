package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutSinks(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "fleetsim"})
	assert.Error(t, err)
}

func TestNew_FileLogs(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "fleetsim",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)

	assert.True(t, p.Enabled())
	assert.NotNil(t, p.LoggerProvider())
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_FileMetrics(t *testing.T) {
	var logs, metrics bytes.Buffer
	p, err := New(Config{
		Enabled:        true,
		ServiceName:    "fleetsim",
		BatchTimeout:   time.Second,
		LogWriter:      &logs,
		MetricWriter:   &metrics,
		MetricInterval: time.Hour,
	})
	require.NoError(t, err)

	counter, err := p.Meter("test").Int64Counter("sim.ticks")
	require.NoError(t, err)
	counter.Add(context.Background(), 3, metric.WithAttributes())

	require.NoError(t, p.Flush(context.Background()))
	assert.Contains(t, metrics.String(), "sim.ticks")
	assert.NoError(t, p.Shutdown(context.Background()))
}
