package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	cstore "scorer/internal/community/store"
	"scorer/internal/credential/validator"
	"scorer/internal/dedup"
	"scorer/internal/hashindex"
	hashmemory "scorer/internal/hashindex/store/memory"
	hashpg "scorer/internal/hashindex/store/postgres"
	passportmemory "scorer/internal/passport/store/memory"
	passportpg "scorer/internal/passport/store/postgres"
	"scorer/internal/platform/config"
	"scorer/internal/platform/httpserver"
	"scorer/internal/platform/kafka"
	"scorer/internal/platform/logger"
	"scorer/internal/platform/metrics"
	"scorer/internal/platform/postgres"
	"scorer/internal/platform/redis"
	scoringmetrics "scorer/internal/scoring/metrics"
	"scorer/internal/scoring/queue"
	"scorer/internal/scoring/service"
	"scorer/internal/scoring/worker"
	"scorer/pkg/platform/audit/outbox"
	auditmemory "scorer/pkg/platform/audit/store/memory"
	auditpg "scorer/pkg/platform/audit/store/postgres"
	"scorer/pkg/platform/circuit"
	txcontext "scorer/pkg/platform/tx"
)

const memoryQueueCapacity = 1024

// main wires storage, the job queue, the scoring workers and the ops server.
// Scoring logic lives in internal/scoring.
func main() {
	cfg, ok, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if !ok {
		return
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("scorer stopped", "error", err)
		os.Exit(1)
	}
}

type storage struct {
	communities service.CommunityStore
	passports   service.PassportStore
	index       hashindex.Index
	events      service.EventStore
	tx          txcontext.Runner
	db          *sql.DB
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := metrics.NewRegistry()
	checks := map[string]httpserver.Check{}

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
		checks["postgres"] = st.db.PingContext
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var (
		q           queue.Queue
		memoryQueue bool
	)
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = rdb.Health
		q = queue.NewRedis(rdb.Client, cfg.Redis.QueueKey)
		log.Info("using redis job queue", "key", cfg.Redis.QueueKey)
	} else {
		mq := queue.NewMemory(memoryQueueCapacity)
		defer mq.Close()
		q = mq
		memoryQueue = true
		log.Info("using in-memory job queue")
	}

	scoringMetrics := scoringmetrics.New(reg)
	engine := dedup.New(st.index, st.passports, st.events,
		dedup.WithLogger(log),
		dedup.WithMetrics(dedup.NewMetrics(reg)),
	)

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(scoringMetrics),
		service.WithRescoreFanOut(cfg.Scoring.RescoreFanOut),
		service.WithValidationWorkers(cfg.Scoring.ValidationWorkers),
	}
	if queueRescoring(cfg.Scoring, memoryQueue) {
		opts = append(opts, service.WithRescheduler(service.NewQueueRescheduler(q)))
	}
	svc := service.New(service.Dependencies{
		Communities: st.communities,
		Passports:   st.passports,
		Index:       st.index,
		Dedup:       engine,
		Validator:   validator.NewBasic(validator.WithTrustedIssuers(cfg.Scoring.TrustedIssuers...)),
		Events:      st.events,
		Tx:          st.tx,
	}, opts...)

	pool := worker.New(q, svc,
		worker.WithLogger(log),
		worker.WithMetrics(scoringMetrics),
		worker.WithWorkers(cfg.Scoring.Workers),
		worker.WithMaxAttempts(cfg.Scoring.MaxJobAttempts),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := startRelay(gctx, g, cfg, st, reg, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		checks["kafka"] = func(ctx context.Context) error { return kafka.Health(ctx, producer) }
	}

	srv := httpserver.New(cfg.Ops.Addr, httpserver.NewOpsRouter(metrics.Handler(reg), checks))
	g.Go(func() error {
		log.Info("starting ops server", "addr", cfg.Ops.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info("scorer shut down")
	return err
}

// queueRescoring reports whether FIFO rescores go through the job queue. The in-memory queue
// is drained by the same workers that would fill it, so rescoring stays inline there.
func queueRescoring(cfg config.ScoringConfig, memoryQueue bool) bool {
	return !cfg.RescoreInline && !memoryQueue
}

func openStorage(ctx context.Context, cfg config.Config, log *slog.Logger) (*storage, error) {
	if cfg.Postgres.DSN == "" {
		log.Warn("no postgres DSN configured, using in-memory stores")
		return &storage{
			communities: cstore.NewInMemory(),
			passports:   passportmemory.New(),
			index:       hashmemory.New(),
			events:      auditmemory.NewInMemoryStore(),
			tx:          txcontext.NewShardedRunner(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &storage{
		communities: cstore.NewPostgres(db),
		passports:   passportpg.New(db),
		index:       hashpg.New(db),
		events:      auditpg.New(db),
		tx:          txcontext.NewPostgresRunner(db, cfg.Postgres.TxTimeout),
		db:          db,
	}, nil
}

func startRelay(ctx context.Context, g *errgroup.Group, cfg config.Config, st *storage, reg prometheus.Registerer, log *slog.Logger) (*kgo.Client, error) {
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
		producer.Close()
		return nil, err
	}

	relay := outbox.NewRelay(outbox.NewPostgresStore(st.db), producer, st.tx, cfg.Kafka.Topic,
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewMetrics(reg)),
		outbox.WithBreaker(circuit.New("outbox-kafka", circuit.WithCooldown(30*time.Second))),
		outbox.WithBatchSize(cfg.Kafka.BatchSize),
		outbox.WithInterval(cfg.Kafka.PollInterval),
	)
	g.Go(func() error {
		log.Info("starting outbox relay", "topic", cfg.Kafka.Topic)
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox relay: %w", err)
		}
		return nil
	})
	return producer, nil
}
