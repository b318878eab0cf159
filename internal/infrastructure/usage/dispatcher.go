// Package usage sends usage events to a sink without blocking the request
// path.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
)

// ErrorObserver hears about every event that could not be delivered.
type ErrorObserver interface {
	UsageDispatchFailed(event domain.UsageEvent, reason string, err error)
}

type Config struct {
	Workers     int
	SendTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher implements ports.UsageRecorder on a bounded ants pool. When the
// pool is saturated the event is dropped and reported, never queued without
// bound.
type Dispatcher struct {
	sink     ports.UsageSink
	pool     *ants.Pool
	observer ErrorObserver
	cfg      Config
}

func NewDispatcher(sink ports.UsageSink, cfg Config, observer ErrorObserver) (*Dispatcher, error) {
	cfg = cfg.normalize()
	d := &Dispatcher{
		sink:     sink,
		observer: observer,
		cfg:      cfg,
	}
	pool, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create usage pool: %w", err)
	}
	d.pool = pool
	return d, nil
}

func (d *Dispatcher) Record(event domain.UsageEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	err := d.pool.Submit(func() {
		defer func() {
			if p := recover(); p != nil {
				d.fail(event, "panic", fmt.Errorf("usage task panic: %v", p))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		defer cancel()
		if err := d.sink.LogUsage(ctx, event); err != nil {
			d.fail(event, "sink", err)
		}
	})
	if err != nil {
		d.fail(event, "submit", err)
	}
}

// Close waits up to timeout for in-flight deliveries.
func (d *Dispatcher) Close(timeout time.Duration) error {
	if err := d.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("release usage pool: %w", err)
	}
	return nil
}

func (d *Dispatcher) fail(event domain.UsageEvent, reason string, err error) {
	if d.observer != nil {
		d.observer.UsageDispatchFailed(event, reason, err)
	}
}

// LogObserver logs failures and counts them by reason.
type LogObserver struct {
	logger  *slog.Logger
	counter *prometheus.CounterVec
}

func NewLogObserver(logger *slog.Logger, counter *prometheus.CounterVec) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger, counter: counter}
}

func (o *LogObserver) UsageDispatchFailed(event domain.UsageEvent, reason string, err error) {
	o.logger.Warn("usage_dispatch_failed",
		"reason", reason,
		"event_id", event.ID,
		"tenant_id", event.TenantID,
		"request_type", string(event.RequestType),
		"error", err,
	)
	if o.counter != nil {
		o.counter.WithLabelValues(reason).Inc()
	}
}
