package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"scorer/pkg/platform/circuit"
	txcontext "scorer/pkg/platform/tx"
)

// ErrCircuitOpen is returned by PublishOnce while the breaker rejects calls.
var ErrCircuitOpen = errors.New("outbox relay: circuit open")

// Producer is the subset of *kgo.Client the relay uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Metrics tracks relay throughput.
type Metrics struct {
	Published    prometheus.Counter
	Failures     prometheus.Counter
	CircuitState prometheus.Gauge
}

// NewMetrics registers relay metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "scorer_outbox_published_total",
			Help: "Total number of outbox entries published to Kafka",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "scorer_outbox_publish_failures_total",
			Help: "Total number of failed outbox publish batches",
		}),
		CircuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "scorer_outbox_circuit_state",
			Help: "Relay circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) addPublished(n int) {
	if m != nil {
		m.Published.Add(float64(n))
	}
}

func (m *Metrics) incFailures() {
	if m != nil {
		m.Failures.Inc()
	}
}

func (m *Metrics) setCircuit(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitState.Set(1)
	} else {
		m.CircuitState.Set(0)
	}
}

// Relay polls the outbox and publishes unpublished rows in creation order.
type Relay struct {
	store     Store
	producer  Producer
	tx        txcontext.Runner
	breaker   *circuit.Breaker
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewRelay creates a relay publishing to topic.
func NewRelay(store Store, producer Producer, runner txcontext.Runner, topic string, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		producer:  producer,
		tx:        runner,
		breaker:   circuit.New("outbox-kafka"),
		topic:     topic,
		batchSize: 100,
		interval:  time.Second,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run publishes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// drain while full batches keep coming
			for {
				n, err := r.PublishOnce(ctx)
				if err != nil {
					if !errors.Is(err, ErrCircuitOpen) && ctx.Err() == nil {
						r.logger.WarnContext(ctx, "outbox publish failed", "error", err)
					}
					break
				}
				if n < r.batchSize {
					break
				}
			}
		}
	}
}

// PublishOnce publishes one batch and returns how many entries were acknowledged.
func (r *Relay) PublishOnce(ctx context.Context) (int, error) {
	if !r.breaker.Allow() {
		return 0, ErrCircuitOpen
	}

	published := 0
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := r.store.FetchUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		records := make([]*kgo.Record, len(entries))
		ids := make([]uuid.UUID, len(entries))
		for i, e := range entries {
			records[i] = &kgo.Record{
				Topic: r.topic,
				Key:   []byte(e.AggregateID),
				Value: e.Payload,
				Headers: []kgo.RecordHeader{
					{Key: "event_type", Value: []byte(e.EventType)},
					{Key: "event_id", Value: []byte(e.ID.String())},
				},
			}
			ids[i] = e.ID
		}

		if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			r.recordFailure()
			return fmt.Errorf("produce outbox batch: %w", err)
		}
		r.recordSuccess()

		if err := r.store.MarkPublished(ctx, ids, r.now()); err != nil {
			return err
		}
		published = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.metrics.addPublished(published)
	return published, nil
}

func (r *Relay) recordFailure() {
	r.metrics.incFailures()
	if _, change := r.breaker.RecordFailure(); change.Opened {
		r.logger.Warn("outbox relay circuit opened", "breaker", r.breaker.Name())
		r.metrics.setCircuit(true)
	}
}

func (r *Relay) recordSuccess() {
	if _, change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.Info("outbox relay circuit closed", "breaker", r.breaker.Name())
		r.metrics.setCircuit(false)
	}
}
