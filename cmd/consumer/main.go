package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/roadside-dispatch/internal/config"
	"github.com/example/roadside-dispatch/internal/dispatch"
	"github.com/example/roadside-dispatch/internal/events"
	"github.com/example/roadside-dispatch/internal/logging"
)

var (
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid notification messages received",
	})
	deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_deliveries_total",
		Help: "Total notifications delivered to the gateway",
	})
	duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_duplicates_total",
		Help: "Total redelivered notifications skipped",
	})
	deliveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_delivery_errors_total",
		Help: "Total delivery rounds that failed after retries",
	})
	dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_dropped_total",
		Help: "Total notifications given up after max redeliveries",
	})
)

func init() {
	prometheus.MustRegister(msgsInvalid, deliveries, duplicates, deliveryErrors, dropped)
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConsumerConfig()
	logger := logging.Component(logging.NewLogger(cfg.LogLevel), "consumer")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	ledger := &redisLedger{c: rc, ttl: cfg.DedupTTL}
	gateway := dispatch.NewHTTPDispatcher(cfg.NotifyEndpoint, cfg.NotifyAPIKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := events.NewReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	defer func() {
		_ = reader.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup,
		"max_redeliveries", cfg.MaxRedeliveries)
	c := &events.Consumer{
		Reader:          reader,
		Logger:          logger,
		MaxRedeliveries: cfg.MaxRedeliveries,
		Handle: func(ctx context.Context, n dispatch.Notification) error {
			err := deliverOnce(ctx, ledger, gateway, n, cfg.Attempts, cfg.RetryDelay)
			switch {
			case errors.Is(err, errDuplicate):
				duplicates.Inc()
				return nil
			case err == nil:
				deliveries.Inc()
			}
			return err
		},
		OnInvalid: msgsInvalid.Inc,
		OnError:   deliveryErrors.Inc,
		OnDropped: dropped.Inc,
	}
	if err := c.Run(ctx); err != nil {
		logger.Error("consumer stopped", "error", err)
	}
	logger.Info("shutting down consumer")
}

var errDuplicate = errors.New("already delivered")

// Ledger remembers which notification ids went out, so a Kafka redelivery
// does not ring a driver twice.
type Ledger interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type redisLedger struct {
	c   *redis.Client
	ttl time.Duration
}

func (r *redisLedger) Claim(ctx context.Context, id string) (bool, error) {
	return r.c.SetNX(ctx, "notification:sent:"+id, 1, r.ttl).Result()
}

func (r *redisLedger) Release(ctx context.Context, id string) error {
	return r.c.Del(ctx, "notification:sent:"+id).Err()
}

// deliverOnce claims n in the ledger and delivers it with retry/backoff. A
// failed delivery releases the claim; the offset stays uncommitted and the
// consumer hands the same message back.
// A ledger outage does not block delivery.
func deliverOnce(ctx context.Context, ledger Ledger, gw dispatch.Notifier, n dispatch.Notification, attempts int, delay time.Duration) error {
	claimed, err := ledger.Claim(ctx, n.ID)
	if err != nil {
		slog.Warn("dedup ledger unavailable", "id", n.ID, "error", err)
		claimed = true
	}
	if !claimed {
		return errDuplicate
	}
	if err := deliverWithRetry(ctx, gw, n, attempts, delay); err != nil {
		_ = ledger.Release(ctx, n.ID)
		return err
	}
	return nil
}

func deliverWithRetry(ctx context.Context, gw dispatch.Notifier, n dispatch.Notification, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = gw.Notify(ctx, n); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
