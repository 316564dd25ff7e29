package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/vai-no-pulo/internal/logging"
	"github.com/example/vai-no-pulo/internal/notify"
)

// The notifier tails the order-events topic and fans each event out to
// its recipient's device. Delivery is best effort with bounded retries;
// an event nobody can receive is dropped, not requeued.

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total order events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total undecodable events received",
	})
	pushDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_push_delivered_total",
		Help: "Total notifications delivered",
	})
	pushFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_push_failed_total",
		Help: "Total notifications dropped after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, pushDelivered, pushFailed)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"), "notifier")

	brokers := splitList(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "order-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "vai-no-pulo-notifier"
	}

	sender := notify.NewPushSender(os.Getenv("PUSH_ENDPOINT"), os.Getenv("PUSH_KEY"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	go func() {
		mux := healthMux(func() bool { return r != nil })
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	logger.Info("consuming", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		eventsConsumed.Inc()

		var ev notify.OrderEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			eventsInvalid.Inc()
			logger.Warn("invalid event", "error", err)
			continue
		}
		if ev.RecipientID == "" {
			eventsInvalid.Inc()
			continue
		}

		if err := deliverWithRetry(sender, ev, 3, 200*time.Millisecond); err != nil {
			pushFailed.Inc()
			logger.Warn("notification dropped", "order_id", ev.OrderID, "recipient", ev.RecipientID, "error", err)
			continue
		}
		pushDelivered.Inc()
	}
}

// healthMux serves metrics plus the liveness and readiness probes.
func healthMux(ready func() bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	return mux
}

// Deliverer is the subset of the push sender the retry loop needs.
type Deliverer interface {
	Deliver(ev notify.OrderEvent) error
}

// deliverWithRetry attempts delivery with exponential backoff. A missing
// session is not retried: the recipient is simply offline.
func deliverWithRetry(d Deliverer, ev notify.OrderEvent, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = d.Deliver(ev)
		if err == nil {
			return nil
		}
		if _, offline := err.(*notify.NoSessionError); offline {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}

func splitList(v string) []string {
	out := []string{}
	for _, b := range strings.Split(v, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return out
}
