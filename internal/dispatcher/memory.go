package dispatcher

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"cloudagent/pkg/backoff"
	"cloudagent/pkg/circuitbreaker"
	"cloudagent/pkg/cloudevent"
)

// Memory is an in-memory async event dispatcher.
// Events are queued in a bounded channel and delivered by a worker pool.
// If the buffer is full, events are dropped and logged.
type Memory struct {
	queue    chan *cloudevent.CloudEvent
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Hosts
	config   Config
	host     string
	logger   *slog.Logger

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// New creates a dispatcher and starts its workers. It returns nil when no
// callback URL is configured; every method of a nil *Memory is a no-op.
func New(cfg Config) *Memory {
	if cfg.URL == "" {
		return nil
	}
	cfg = cfg.withDefaults()

	d := &Memory{
		queue:    make(chan *cloudevent.CloudEvent, cfg.BufferSize),
		sender:   cloudevent.NewSender(cfg.HTTPTimeout, cfg.Key),
		breakers: circuitbreaker.NewHosts(circuitbreaker.Config{}),
		config:   cfg,
		host:     extractHost(cfg.URL),
		logger:   slog.With("component", "dispatcher", "destination", extractHost(cfg.URL)),
		shutdown: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.worker()
	}
	d.logger.Debug("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

// Dispatch queues an event for async delivery. Non-blocking.
func (d *Memory) Dispatch(event *cloudevent.CloudEvent) error {
	if d == nil {
		return nil
	}
	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.queue <- event:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		d.logger.Warn("Event dropped, buffer full", "type", event.Type)
		return ErrBufferFull
	}
}

// Stats returns current dispatcher statistics.
func (d *Memory) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:   len(d.queue),
		Queued:       d.queued.Load(),
		Delivered:    d.delivered.Load(),
		Failed:       d.failed.Load(),
		Dropped:      d.dropped.Load(),
		RetriesTotal: d.retriesTotal.Load(),
		BreakersOpen: d.breakers.OpenHosts(),
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// The context deadline controls how long to wait for the drain.
func (d *Memory) Close(ctx context.Context) error {
	if d == nil || d.closed.Swap(true) {
		return nil
	}
	close(d.shutdown)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Debug("Dispatcher drained",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher drain timed out", "remaining", len(d.queue))
		return ctx.Err()
	}
}

func (d *Memory) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.shutdown:
			d.drainQueue()
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

func (d *Memory) drainQueue() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

func (d *Memory) deliver(event *cloudevent.CloudEvent) {
	if err := d.breakers.Allow(d.host); err != nil {
		d.dropped.Add(1)
		d.logger.Warn("Event dropped, circuit open", "type", event.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := d.sendWithRetry(ctx, event)
	d.breakers.Record(d.host, err)
	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("Delivery failed", "type", event.Type, "subject", event.Subject, "error", err)
		return
	}
	d.delivered.Add(1)
}

func (d *Memory) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	var lastErr error
	for attempt := range d.config.MaxRetries + 1 {
		if attempt > 0 {
			d.retriesTotal.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt, &d.config.Backoff)):
			}
		}

		lastErr = d.sender.Send(ctx, d.config.URL, event)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
