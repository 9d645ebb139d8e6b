// Package monitor probes ServiceNow instances for liveness and announces
// when one goes up or down.
//
// # Data Flow
//
//	┌──────────────┐     ┌───────────────────┐     ┌──────────────┐
//	│  ServiceNow  │────▶│  Prober            │────▶│  Publisher   │
//	│  instance    │     │  (per instance)    │     │  (Kafka or   │
//	│              │     │                    │     │   log)       │
//	│  GET api/now │     │  1. IsUp           │     │              │
//	│  /timeago/   │     │  2. Compare with   │     │  key = host  │
//	│  absolute    │     │     stored status  │     │              │
//	│              │     │  3. Publish change │     │              │
//	│              │     │  4. Store status   │     │              │
//	└──────────────┘     └───────────────────┘     └──────────────┘
//
// # Probe Intervals
//
//   - Interval (default 1m): used while the instance is up.
//   - DownInterval (default 15s): used while the instance is down, so
//     recovery is noticed quickly.
//
// # Status Safety
//
// The stored status is advanced only after the Publisher returned. If the
// process crashes in between, the same transition is detected and published
// again on restart (possibly duplicated, never lost).
//
// A probe that fails with an error counts as down. The error text is kept
// in the status and in the published event.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/RaikaSurendra/servicenow-instance/internal/config"
	"github.com/RaikaSurendra/servicenow-instance/internal/kafka"
	"github.com/RaikaSurendra/servicenow-instance/internal/observability"
	"github.com/RaikaSurendra/servicenow-instance/internal/state"
)

// Checker reports whether an instance is up. *servicenow.Instance
// satisfies it.
type Checker interface {
	IsUp(ctx context.Context) (bool, error)
	HostName() string
	BaseURL() string
}

// Publisher announces status transitions. *kafka.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev kafka.StatusEvent) error
}

// LogPublisher announces transitions in the log only. It is used when
// Kafka publishing is disabled.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (l LogPublisher) Publish(_ context.Context, ev kafka.StatusEvent) error {
	l.Logger.Info("instance status changed",
		"instance", ev.Instance,
		"up", ev.Up,
		"error", ev.Error,
	)
	return nil
}

// Prober periodically checks a single instance. Each instance gets its own
// Prober goroutine.
type Prober struct {
	checker   Checker
	publisher Publisher
	store     state.Store
	logger    *slog.Logger

	interval     time.Duration
	downInterval time.Duration

	now func() time.Time

	// last is the most recently stored status.
	last state.Status
}

// NewProber creates a Prober and loads the instance's stored status.
func NewProber(
	checker Checker,
	publisher Publisher,
	store state.Store,
	cfg config.MonitorConfig,
	logger *slog.Logger,
) (*Prober, error) {
	host := checker.HostName()
	last, err := store.Get(host)
	if err != nil {
		return nil, fmt.Errorf("loading status for instance %s: %w", host, err)
	}

	return &Prober{
		checker:      checker,
		publisher:    publisher,
		store:        store,
		logger:       logger.With("component", "prober", "instance", host),
		interval:     cfg.Interval.Duration,
		downInterval: cfg.DownInterval.Duration,
		now:          time.Now,
		last:         last,
	}, nil
}

// Run probes immediately and then on every interval until the context is
// cancelled. It should be run in its own goroutine (typically via errgroup).
func (p *Prober) Run(ctx context.Context) error {
	p.logger.Info("starting prober",
		"interval", p.interval,
		"down_interval", p.downInterval,
		"last_up", p.last.Up,
		"last_checked_at", p.last.CheckedAt,
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("prober shutting down")
			return ctx.Err()
		default:
		}

		st, err := p.probeOnce(ctx)
		interval := p.nextInterval(st)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Retry on the down cadence; the publisher may recover.
			p.logger.Error("probe cycle failed", "error", err)
			interval = p.downInterval
		}

		select {
		case <-ctx.Done():
			p.logger.Info("prober shutting down")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (p *Prober) nextInterval(st state.Status) time.Duration {
	if st.Up {
		return p.interval
	}
	return p.downInterval
}

// probeOnce runs one liveness check and handles a possible transition. It
// returns the status that is now stored.
func (p *Prober) probeOnce(ctx context.Context) (state.Status, error) {
	host := p.checker.HostName()

	up, probeErr := p.checker.IsUp(ctx)
	if ctx.Err() != nil {
		// A cancelled probe says nothing about the instance.
		return p.last, ctx.Err()
	}

	now := p.now().Unix()
	st := state.Status{
		Up:        up && probeErr == nil,
		CheckedAt: now,
		ChangedAt: p.last.ChangedAt,
	}

	result := "down"
	switch {
	case probeErr != nil:
		st.Error = probeErr.Error()
		result = "error"
	case st.Up:
		result = "up"
	}
	observability.Metrics.ProbesTotal.WithLabelValues(host, result).Inc()
	if st.Up {
		observability.Metrics.InstanceUp.WithLabelValues(host).Set(1)
	} else {
		observability.Metrics.InstanceUp.WithLabelValues(host).Set(0)
	}

	if p.last.IsZero() || p.last.Up != st.Up {
		st.ChangedAt = now
		if err := p.publisher.Publish(ctx, p.event(st)); err != nil {
			return p.last, fmt.Errorf("publishing status event: %w", err)
		}
		if st.Up {
			p.logger.Info("instance is up")
		} else {
			p.logger.Warn("instance is down", "error", st.Error)
		}
	} else {
		p.logger.Debug("probe complete", "up", st.Up)
	}

	if err := p.store.Set(host, st); err != nil {
		return p.last, fmt.Errorf("storing status: %w", err)
	}
	p.last = st
	return st, nil
}

// event builds the StatusEvent announcing st.
func (p *Prober) event(st state.Status) kafka.StatusEvent {
	ev := kafka.StatusEvent{
		EventID:   uuid.NewString(),
		Instance:  p.checker.HostName(),
		BaseURL:   p.checker.BaseURL(),
		Up:        st.Up,
		CheckedAt: st.CheckedAt,
		ChangedAt: st.ChangedAt,
		Error:     st.Error,
	}
	if !p.last.IsZero() {
		prev := p.last.Up
		ev.PreviousUp = &prev
	}
	return ev
}
