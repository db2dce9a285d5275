package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/app"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/config"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/logging"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total job completion messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	completions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_completions_total",
		Help: "Total completion signals applied",
	})
	completionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_completion_errors_total",
		Help: "Total completion signals that failed after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, completions, completionErrors)
}

// systemActor is the identity completion signals run under.
var systemActor = models.Identity{SubjectID: "system:job-consumer", SubjectKind: models.SubjectAdministrator}

// completionMessage is one record on the job completion topic.
type completionMessage struct {
	JobID string `json:"job_id"`
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("dispatch-consumer", cfg.LogLevel)
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.Ping(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaJobTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() { _ = r.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logger.Info("consumer listening", "topic", cfg.KafkaJobTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
		consume(gctx, r, a.Jobs, logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("consumer stopped", "error", err)
	}
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Completer applies a completion signal. *jobs.Service satisfies it.
type Completer interface {
	Complete(ctx context.Context, actor models.Identity, jobID string) (models.Job, models.LedgerEntry, error)
}

func consume(ctx context.Context, r messageReader, c Completer, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()
		handleMessage(ctx, c, m, logger)
	}
}

func handleMessage(ctx context.Context, c Completer, m kafka.Message, logger *slog.Logger) {
	var msg completionMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil || msg.JobID == "" {
		msgsInvalid.Inc()
		logger.Warn("invalid completion message", "offset", m.Offset, "error", err)
		return
	}
	entry, err := completeWithRetry(ctx, c, msg.JobID, 3, 200*time.Millisecond)
	if err != nil {
		completionErrors.Inc()
		logger.Error("completion failed", "job_id", msg.JobID, "code", apperr.KindOf(err), "error", err)
		return
	}
	completions.Inc()
	logger.Info("completion applied", "job_id", msg.JobID, "ledger_id", entry.ID)
}

// completeWithRetry retries transient failures with doubling delay.
// Validation and lookup failures are returned at once; a redelivered signal
// for a finished job is not an error because Complete is idempotent.
func completeWithRetry(ctx context.Context, c Completer, jobID string, attempts int, delay time.Duration) (models.LedgerEntry, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		_, entry, err := c.Complete(ctx, systemActor, jobID)
		if err == nil {
			return entry, nil
		}
		if !retryable(err) {
			return models.LedgerEntry{}, err
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return models.LedgerEntry{}, errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return models.LedgerEntry{}, lastErr
}

func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindStoreUnavailable, apperr.KindInternal:
		return true
	}
	return false
}
