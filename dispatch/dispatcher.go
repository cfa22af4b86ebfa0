// Package dispatch consumes domain events from the event queue and fans
// them out as notifications. Recipients come from the event kind, channels
// from the recipient's preference, and every (recipient, channel) pair is
// delivered at most once per event via a claimed delivery id.
package dispatch

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"trackhub/domain"
	"trackhub/storage"
)

// Queue is the slice of storage the dispatcher consumes from.
type Queue interface {
	DequeueEvents(ctx context.Context, max, visibility int32) ([]storage.QueueMessage, error)
	DeleteEvent(ctx context.Context, msg storage.QueueMessage) error
}

// PreferenceSource resolves a recipient's notification preference.
type PreferenceSource interface {
	GetPreference(ctx context.Context, userID string) (domain.Preference, error)
}

// Config tunes the dispatcher's consume loop and worker pool.
type Config struct {
	// Workers is the number of shard workers. Events for the same entity
	// always land on the same shard, so they process in order.
	Workers int
	// BatchSize is the maximum number of messages pulled per poll.
	BatchSize int32
	// Visibility is the queue invisibility window in seconds. It must
	// exceed the worst-case processing time of one event.
	Visibility int32
	// PollInterval is the idle sleep between empty polls.
	PollInterval time.Duration
	// ProcessTimeout bounds the handling of a single event.
	ProcessTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Visibility <= 0 {
		c.Visibility = 60
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 30 * time.Second
	}
	return c
}

// Dispatcher runs the consume loop and the shard workers.
type Dispatcher struct {
	queue    Queue
	projects ProjectSource
	prefs    PreferenceSource
	senders  map[domain.Channel]Sender
	deduper  Deduper
	logger   *log.Logger
	cfg      Config

	shards []chan storage.QueueMessage
	wg     sync.WaitGroup

	processed atomic.Int64
	requeued  atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
}

// New wires a dispatcher to its collaborators. senders maps each enabled
// channel to its implementation; channels without a sender are skipped.
func New(queue Queue, projects ProjectSource, prefs PreferenceSource, senders map[domain.Channel]Sender, deduper Deduper, logger *log.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		projects: projects,
		prefs:    prefs,
		senders:  senders,
		deduper:  deduper,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// Run consumes events until ctx is canceled, then drains: in-flight events
// finish, undrained buffer entries reappear on the queue after the
// visibility window expires.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.shards = make([]chan storage.QueueMessage, d.cfg.Workers)
	for i := range d.shards {
		d.shards[i] = make(chan storage.QueueMessage, d.cfg.BatchSize)
		d.wg.Add(1)
		go d.worker(d.shards[i])
	}

	for {
		select {
		case <-ctx.Done():
			for _, shard := range d.shards {
				close(shard)
			}
			d.wg.Wait()
			return ctx.Err()
		default:
		}

		msgs, err := d.queue.DequeueEvents(ctx, d.cfg.BatchSize, d.cfg.Visibility)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.WithError(err).Error("failed to dequeue events")
			}
			d.sleep(ctx)
			continue
		}
		if len(msgs) == 0 {
			d.sleep(ctx)
			continue
		}
		for _, msg := range msgs {
			d.shards[d.shardFor(msg)] <- msg
		}
	}
}

func (d *Dispatcher) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(d.cfg.PollInterval):
	}
}

// shardFor keeps all events of one entity on one worker so they cannot
// reorder against each other. Malformed messages go to shard 0.
func (d *Dispatcher) shardFor(msg storage.QueueMessage) int {
	if msg.Malformed {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(msg.Event.EntityID))
	return int(h.Sum32()) % len(d.shards)
}

func (d *Dispatcher) worker(shard <-chan storage.QueueMessage) {
	defer d.wg.Done()
	for msg := range shard {
		// Detached from Run's context so shutdown does not abort a
		// half-dispatched event.
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ProcessTimeout)
		d.process(ctx, msg)
		cancel()
	}
}

// process handles one queue message end to end. The message is deleted when
// every delivery either succeeded, was already claimed, or was permanently
// abandoned; it is left for redelivery when any delivery deferred with a
// transient failure.
func (d *Dispatcher) process(ctx context.Context, msg storage.QueueMessage) {
	if msg.Malformed {
		d.logger.WithField("message_id", msg.MessageID).Warn("dropping malformed event message")
		d.deleteMessage(ctx, msg)
		d.dropped.Add(1)
		return
	}
	ev := msg.Event
	metrics, ctx := newEventMetrics(ctx, d.logger, ev)

	res, err := d.resolve(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrUnknownKind) {
			d.logger.WithField("kind", string(ev.Kind)).Warn("dropping event of unknown kind")
			d.deleteMessage(ctx, msg)
			d.dropped.Add(1)
			metrics.SetErrorStage("resolve")
			metrics.Log(nil)
			return
		}
		metrics.SetErrorStage("resolve")
		if domain.IsTransient(err) {
			// Leave the message; the queue redelivers it.
			d.requeued.Add(1)
			metrics.Log(err)
			return
		}
		d.logger.WithError(err).WithField("event_id", ev.ID).Error("dropping undeliverable event")
		d.deleteMessage(ctx, msg)
		d.dropped.Add(1)
		metrics.Log(err)
		return
	}
	metrics.SetRecipients(len(res.recipients))

	transient := d.fanOut(ctx, ev, res, metrics)
	if transient > 0 {
		d.requeued.Add(1)
		metrics.Log(nil)
		return
	}
	d.deleteMessage(ctx, msg)
	d.processed.Add(1)
	metrics.Log(nil)
}

// fanOut attempts every (recipient, channel) delivery independently and
// returns the number deferred for retry. A failure on one pair never blocks
// the others.
func (d *Dispatcher) fanOut(ctx context.Context, ev domain.Event, res resolution, metrics *eventMetrics) int {
	transient := 0
	for _, recipient := range res.recipients {
		pref, err := d.prefs.GetPreference(ctx, recipient)
		if err != nil {
			d.logger.WithError(err).WithField("recipient", recipient).Warn("deferring recipient, preference unavailable")
			transient++
			metrics.AddTransient()
			continue
		}
		for _, ch := range pref.EffectiveChannels(ev.Kind) {
			sender, ok := d.senders[ch]
			if !ok {
				continue
			}
			switch d.deliverOne(ctx, sender, ev, recipient, ch, res.content) {
			case outcomeDelivered:
				d.delivered.Add(1)
				metrics.AddDelivered()
			case outcomeSkipped:
				metrics.AddSkipped()
			case outcomeAbandoned:
				metrics.AddAbandoned()
			case outcomeTransient:
				transient++
				metrics.AddTransient()
			}
		}
	}
	return transient
}

type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeSkipped
	outcomeAbandoned
	outcomeTransient
)

// deliverOne claims the delivery id, invokes the sender and classifies the
// result. A transient failure releases the claim so the next redelivery of
// the event retries this pair.
func (d *Dispatcher) deliverOne(ctx context.Context, sender Sender, ev domain.Event, recipient string, ch domain.Channel, content string) deliveryOutcome {
	deliveryID := domain.DeliveryID(ev.ID, recipient, ch)
	claimed, err := d.deduper.Claim(ctx, deliveryID)
	if err != nil {
		d.logger.WithError(err).WithField("delivery_id", deliveryID).Warn("deferring delivery, claim failed")
		return outcomeTransient
	}
	if !claimed {
		return outcomeSkipped
	}

	err = sender.Deliver(ctx, Delivery{
		ID:          deliveryID,
		RecipientID: recipient,
		Channel:     ch,
		Kind:        ev.Kind,
		Content:     content,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
	})
	if err == nil {
		return outcomeDelivered
	}

	fields := log.Fields{
		"delivery_id": deliveryID,
		"recipient":   recipient,
		"channel":     string(ch),
	}
	if domain.IsTransient(err) {
		if rerr := d.deduper.Release(ctx, deliveryID); rerr != nil {
			d.logger.WithError(rerr).WithFields(fields).Error("failed to release delivery claim")
		}
		d.logger.WithError(err).WithFields(fields).Warn("deferring delivery after transient failure")
		return outcomeTransient
	}
	d.logger.WithError(err).WithFields(fields).Error("abandoning delivery after permanent failure")
	return outcomeAbandoned
}

func (d *Dispatcher) deleteMessage(ctx context.Context, msg storage.QueueMessage) {
	if err := d.queue.DeleteEvent(ctx, msg); err != nil {
		// Redelivery is harmless: processed deliveries stay claimed.
		d.logger.WithError(err).WithField("message_id", msg.MessageID).Warn("failed to delete queue message")
	}
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Processed int64 `json:"processed"`
	Requeued  int64 `json:"requeued"`
	Dropped   int64 `json:"dropped"`
	Delivered int64 `json:"delivered"`
}

// Stats reports cumulative counters since startup.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		Requeued:  d.requeued.Load(),
		Dropped:   d.dropped.Load(),
		Delivered: d.delivered.Load(),
	}
}
