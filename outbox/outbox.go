// Package outbox decouples domain mutations from event-queue availability:
// accepted events are handed to background workers that publish with
// exponential backoff, so a queue hiccup does not fail the write path.
package outbox

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"trackhub/domain"
)

// Publisher sends events to the event channel.
type Publisher interface {
	PublishEvents(ctx context.Context, events ...domain.Event) error
}

// ErrSaturated is returned when the outbox buffer is full and the caller's
// handoff timeout elapsed. The operation may be retried.
var ErrSaturated = errors.New("event outbox is saturated")

// Config tunes outbox behaviour. Zero values fall back to defaults.
type Config struct {
	BufferSize     int
	WorkerCount    int
	PublishTimeout time.Duration
	HandoffTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	MaxAttempts    int
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.HandoffTimeout < 0 {
		c.HandoffTimeout = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 250 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	return c
}

type record struct {
	event   domain.Event
	attempt int
}

// Outbox buffers accepted events and publishes them in the background.
type Outbox struct {
	cfg       Config
	publisher Publisher
	logger    *log.Logger

	workCh   chan *record
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	retryWG  sync.WaitGroup
	enqWG    sync.WaitGroup

	mu        sync.Mutex
	closing   bool
	inflight  int
	delivered atomic.Uint64
	dropped   atomic.Uint64
	started   time.Time
}

// New creates and starts an outbox.
func New(cfg Config, publisher Publisher, logger *log.Logger) *Outbox {
	cfg = cfg.withDefaults()
	o := &Outbox{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		workCh:    make(chan *record, cfg.BufferSize),
		stopCh:    make(chan struct{}),
		started:   time.Now().UTC(),
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		o.workerWG.Add(1)
		go o.worker()
	}
	return o
}

// Enqueue hands events to the background workers. It blocks up to the
// handoff timeout when the buffer is full, then fails with ErrSaturated.
func (o *Outbox) Enqueue(events ...domain.Event) error {
	for i := range events {
		if err := o.enqueueOne(&record{event: events[i]}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbox) enqueueOne(rec *record) error {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return errors.New("outbox shutting down")
	}
	o.inflight++
	o.enqWG.Add(1)
	o.mu.Unlock()
	defer o.enqWG.Done()

	if o.cfg.HandoffTimeout <= 0 {
		select {
		case o.workCh <- rec:
			return nil
		default:
			o.finish()
			return ErrSaturated
		}
	}

	timer := time.NewTimer(o.cfg.HandoffTimeout)
	defer timer.Stop()
	select {
	case o.workCh <- rec:
		return nil
	case <-timer.C:
		o.finish()
		return ErrSaturated
	case <-o.stopCh:
		o.finish()
		return errors.New("outbox shutting down")
	}
}

func (o *Outbox) worker() {
	defer o.workerWG.Done()
	for rec := range o.workCh {
		if rec == nil {
			continue
		}
		o.publish(rec)
	}
}

func (o *Outbox) publish(rec *record) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PublishTimeout)
	err := o.publisher.PublishEvents(ctx, rec.event)
	cancel()
	if err == nil {
		o.delivered.Add(1)
		o.finish()
		return
	}

	rec.attempt++
	if rec.attempt >= o.cfg.MaxAttempts {
		o.dropped.Add(1)
		o.finish()
		o.logger.WithError(err).WithFields(log.Fields{
			"event":   rec.event.ID,
			"kind":    rec.event.Kind,
			"attempt": rec.attempt,
		}).Error("event publish abandoned")
		return
	}

	o.logger.WithError(err).WithFields(log.Fields{
		"event":   rec.event.ID,
		"kind":    rec.event.Kind,
		"attempt": rec.attempt,
	}).Warn("event publish failed, scheduling retry")
	o.scheduleRetry(rec)
}

func (o *Outbox) scheduleRetry(rec *record) {
	delay := backoff(rec.attempt, o.cfg.RetryInitial, o.cfg.RetryMax)
	o.retryWG.Add(1)
	timer := time.NewTimer(delay)
	go func() {
		defer o.retryWG.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case o.workCh <- rec:
			case <-o.stopCh:
				o.finish()
			}
		case <-o.stopCh:
			o.finish()
		}
	}()
}

func (o *Outbox) finish() {
	o.mu.Lock()
	o.inflight--
	o.mu.Unlock()
}

// Shutdown stops accepting events and waits for in-flight publishes to
// drain. Pending retries are cancelled.
func (o *Outbox) Shutdown() {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return
	}
	o.closing = true
	o.mu.Unlock()

	close(o.stopCh)
	o.enqWG.Wait()
	o.retryWG.Wait()
	close(o.workCh)
	o.workerWG.Wait()
}

// Stats reports outbox health for the diagnostics endpoint.
type Stats struct {
	Buffered  int     `json:"buffered"`
	Inflight  int     `json:"inflight"`
	Delivered uint64  `json:"delivered"`
	Dropped   uint64  `json:"dropped"`
	DrainRate float64 `json:"drainRatePerSecond"`
}

// Stats returns a point-in-time snapshot.
func (o *Outbox) Stats() Stats {
	o.mu.Lock()
	inflight := o.inflight
	o.mu.Unlock()

	delivered := o.delivered.Load()
	elapsed := time.Since(o.started)
	rps := 0.0
	if elapsed > 0 {
		rps = float64(delivered) / elapsed.Seconds()
	}
	return Stats{
		Buffered:  len(o.workCh),
		Inflight:  inflight,
		Delivered: delivered,
		Dropped:   o.dropped.Load(),
		DrainRate: rps,
	}
}

func backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		return initial
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if d > float64(max) {
		d = float64(max)
	}
	jitter := 0.2 * d
	return time.Duration(d + (rand.Float64()-0.5)*2*jitter)
}
