// The consumer rebuilds the driver geo index from the location topic, so the
// matcher's view of the fleet survives API restarts and can be served from a
// different process than the one taking pings.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/ridelink/ridelink-backend/internal/config"
	"github.com/ridelink/ridelink-backend/internal/geo"
	"github.com/ridelink/ridelink-backend/internal/ingest"
	"github.com/ridelink/ridelink-backend/internal/logging"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "consumer_messages_consumed_total",
		Help: "Total location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "consumer_messages_invalid_total",
		Help: "Total undecodable messages",
	})
	indexUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "consumer_index_updates_total",
		Help: "Total successful geo index writes",
	})
	indexErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ridelink", Name: "consumer_index_errors_total",
		Help: "Total failed geo index writes",
	})
)

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.KafkaEnabled() {
		log.Fatal("KAFKA_BROKERS is required for the consumer")
	}
	if !cfg.RedisEnabled() {
		log.Fatal("REDIS_ADDR is required for the consumer")
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	index := geo.NewRedisIndex(rdb, cfg.RedisGeoKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Infow("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warnw("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = reader.Close()
		_ = rdb.Close()
	}()

	logger.Infow("consumer started", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Infow("shutting down")
				return
			}
			logger.Warnw("kafka read error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var ping ingest.LocationPing
		if err := json.Unmarshal(m.Value, &ping); err != nil {
			msgsInvalid.Inc()
			logger.Warnw("invalid message", "err", err)
			continue
		}

		if err := apply(ctx, index, ping); err != nil {
			indexErrors.Inc()
			logger.Warnw("index update failed", "driver", ping.DriverID, "err", err)
			continue
		}
		indexUpdates.Inc()
	}
}

// apply replays one ping into the index with a short retry; offline pings
// evict the driver instead.
func apply(ctx context.Context, index geo.Index, ping ingest.LocationPing) error {
	var err error
	delay := 200 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if ping.Online {
			err = index.Upsert(ctx, geo.Position{
				DriverID: ping.DriverID,
				Lat:      ping.Lat,
				Lng:      ping.Lng,
				Updated:  ping.Timestamp,
			})
		} else {
			err = index.Remove(ctx, ping.DriverID)
		}
		if err == nil {
			return nil
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}
