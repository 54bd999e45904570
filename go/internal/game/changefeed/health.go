package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthStatus describes the relay's view of its dependencies.
type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	EventsRelayed     uint64    `json:"events_relayed"`
	EventsFailed      uint64    `json:"events_failed"`
	LastEventTime     time.Time `json:"last_event_time"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ListenerActive    bool      `json:"listener_active"`
	Errors            []string  `json:"errors"`
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionStatus is satisfied by *JetStreamPublisher.
type ConnectionStatus interface {
	IsConnected() bool
}

// StatsSource is satisfied by *Listener.
type StatsSource interface {
	Stats() ListenerStats
}

// HealthChecker reports whether the relay can move changes from Postgres to NATS.
type HealthChecker struct {
	listener StatsSource
	db       Pinger
	nats     ConnectionStatus
}

func NewHealthChecker(listener StatsSource, db Pinger, nats ConnectionStatus) *HealthChecker {
	return &HealthChecker{
		listener: listener,
		db:       db,
		nats:     nats,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	stats := h.listener.Stats()
	status.EventsRelayed = stats.Relayed
	status.EventsFailed = stats.Failed
	status.LastEventTime = stats.LastRelayed
	status.ListenerActive = stats.Running
	if !status.ListenerActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "listener not active")
	}
	if stats.LastError != "" {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("last publish failed: %s", stats.LastError))
	}

	if err := h.db.Ping(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.nats != nil {
		status.NATSConnected = h.nats.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}

// MetricsHandler exposes the health status in Prometheus text format.
func (h *HealthChecker) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(w, h.Check(ctx))
	})
}

func writeMetrics(w io.Writer, status HealthStatus) {
	gauge := func(name, help string, v bool) {
		n := 0
		if v {
			n = 1
		}
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", name, help, name, name, n)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
	}

	gauge("relay_healthy", "Whether the change relay is healthy", status.Healthy)
	counter("relay_events_relayed_total", "Change events published to JetStream", status.EventsRelayed)
	counter("relay_events_failed_total", "Change events dropped after retries", status.EventsFailed)
	gauge("relay_database_connected", "Whether the database answers pings", status.DatabaseConnected)
	gauge("relay_nats_connected", "Whether NATS is connected", status.NATSConnected)
	gauge("relay_listener_active", "Whether the LISTEN loop is running", status.ListenerActive)
}
