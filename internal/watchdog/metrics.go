package watchdog

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/remoteexec/rexecd/watchdog"

// Metrics holds OTel instruments for watchdog firings.
// All methods are nil-safe so callers don't need to guard against disabled telemetry.
type Metrics struct {
	firedTotal metric.Int64Counter

	mu        sync.RWMutex
	liveCount int64
}

// NewMetrics registers watchdog OTel instruments against the global
// MeterProvider. Must be called after the provider has been installed.
func NewMetrics() (*Metrics, error) {
	m := otel.GetMeterProvider().Meter(meterName)
	wm := &Metrics{}

	var err error
	wm.firedTotal, err = m.Int64Counter("rexec.watchdog.fired.total",
		metric.WithDescription("Total number of watchdogs that expired, labeled by kind"),
	)
	if err != nil {
		return nil, err
	}

	// Live-watchdog gauge — observed on each export interval.
	liveGauge, err := m.Int64ObservableGauge("rexec.watchdog.live",
		metric.WithDescription("Number of currently armed watchdogs"),
	)
	if err != nil {
		return nil, err
	}

	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		wm.mu.RLock()
		defer wm.mu.RUnlock()
		o.ObserveInt64(liveGauge, wm.liveCount)
		return nil
	}, liveGauge)
	if err != nil {
		return nil, err
	}

	return wm, nil
}

// Kind identifies which of the two per-operation watchdogs fired.
type Kind string

const (
	// KindPoll labels the requeue-guard watchdog.
	KindPoll Kind = "poll"
	// KindCompletion labels the absolute action-completion deadline.
	KindCompletion Kind = "completion"
)

// RecordFired increments the fired counter for the given watchdog kind.
func (m *Metrics) RecordFired(ctx context.Context, kind Kind) {
	if m == nil {
		return
	}
	m.firedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

// Armed increments the live-watchdog gauge. Call once per Watchdog.Start.
func (m *Metrics) Armed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.liveCount++
	m.mu.Unlock()
}

// Disarmed decrements the live-watchdog gauge. Call once per terminal Stop
// or fire.
func (m *Metrics) Disarmed() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.liveCount > 0 {
		m.liveCount--
	}
	m.mu.Unlock()
}
